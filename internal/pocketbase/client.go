package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keypay/keypay/pkg/logger"
)

// ErrNotAuthenticated is returned when an operation needs a session and none is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a non-2xx PocketBase response.
type APIError struct {
	Status  int                    `json:"status"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pocketbase: %d %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the PocketBase REST API using the session in its AuthStore.
type Client struct {
	logger  *logger.Logger
	baseURL string
	http    *http.Client

	AuthStore *AuthStore
}

func NewClient(baseURL string, logger *logger.Logger) *Client {
	return &Client{
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		AuthStore: NewAuthStore(),
	}
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type ListOptions struct {
	Filter string
	Sort   string
	Expand string
}

// ListResult is a page of raw records.
type ListResult struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

type authResponse struct {
	Token  string      `json:"token"`
	Record *AuthRecord `json:"record"`
	Admin  *AuthRecord `json:"admin"`
}

func (r *authResponse) model() *AuthRecord {
	if r.Record != nil {
		return r.Record
	}
	return r.Admin
}

// AuthWithPassword logs into an auth collection and stores the session.
func (c *Client) AuthWithPassword(ctx context.Context, collection, identity, password string) (*AuthRecord, error) {
	var resp authResponse
	body := map[string]string{"identity": identity, "password": password}
	path := fmt.Sprintf("/api/collections/%s/auth-with-password", url.PathEscape(collection))
	if err := c.send(ctx, "", http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	c.AuthStore.Save(resp.Token, resp.model())
	return resp.model(), nil
}

// AdminAuthWithPassword logs in as a superuser.
func (c *Client) AdminAuthWithPassword(ctx context.Context, email, password string) (*AuthRecord, error) {
	return c.AuthWithPassword(ctx, SuperusersCollection, email, password)
}

// Register creates a user in the users collection and logs in as that user.
func (c *Client) Register(ctx context.Context, email, password, passwordConfirm string) (*AuthRecord, error) {
	body := map[string]string{"email": email, "password": password, "passwordConfirm": passwordConfirm}
	if err := c.send(ctx, "", http.MethodPost, "/api/collections/users/records", nil, body, nil); err != nil {
		return nil, err
	}
	return c.AuthWithPassword(ctx, "users", email, password)
}

// AuthRefresh renews the stored session. The store is cleared only when the
// server answers 401 or 403; any other failure leaves the session untouched.
func (c *Client) AuthRefresh(ctx context.Context) error {
	token := c.AuthStore.Token()
	record := c.AuthStore.Record()
	if token == "" || record == nil {
		return ErrNotAuthenticated
	}

	resp, err := c.refresh(ctx, refreshPath(record), token)
	if err != nil {
		if IsUnauthorized(err) {
			c.logger.Warnw("Auth refresh rejected, clearing session", "error", err)
			c.AuthStore.Clear()
			return err
		}
		c.logger.Warnw("Auth refresh failed, keeping session", "error", err)
		return err
	}
	c.AuthStore.Save(resp.Token, resp.model())
	return nil
}

// Logout clears the stored session.
func (c *Client) Logout() {
	c.AuthStore.Clear()
}

// Identify resolves a caller token to its auth record without touching the store.
// Regular users are tried first, then superusers.
func (c *Client) Identify(ctx context.Context, token string) (*AuthRecord, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	resp, err := c.refresh(ctx, "/api/collections/users/auth-refresh", token)
	if err == nil {
		return resp.model(), nil
	}
	if !IsUnauthorized(err) && !IsNotFound(err) {
		return nil, err
	}
	resp, err = c.refresh(ctx, fmt.Sprintf("/api/collections/%s/auth-refresh", SuperusersCollection), token)
	if err != nil {
		return nil, err
	}
	return resp.model(), nil
}

func refreshPath(record *AuthRecord) string {
	if record.CollectionName == "" {
		return "/api/admins/auth-refresh"
	}
	return fmt.Sprintf("/api/collections/%s/auth-refresh", url.PathEscape(record.CollectionName))
}

func (c *Client) refresh(ctx context.Context, path, token string) (*authResponse, error) {
	var resp authResponse
	if err := c.send(ctx, token, http.MethodPost, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns one page of a collection.
func (c *Client) List(ctx context.Context, collection string, page, perPage int, opts ListOptions) (*ListResult, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("perPage", strconv.Itoa(perPage))
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}
	if opts.Sort != "" {
		query.Set("sort", opts.Sort)
	}
	if opts.Expand != "" {
		query.Set("expand", opts.Expand)
	}

	var out ListResult
	if err := c.send(ctx, c.AuthStore.Token(), http.MethodGet, recordsPath(collection), query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FullList pages through a collection and returns every record.
func (c *Client) FullList(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	const batch = 200
	var items []json.RawMessage
	for page := 1; ; page++ {
		res, err := c.List(ctx, collection, page, batch, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if len(res.Items) < batch || page >= res.TotalPages {
			return items, nil
		}
	}
}

func (c *Client) GetOne(ctx context.Context, collection, id string, expand string, out interface{}) error {
	var query url.Values
	if expand != "" {
		query = url.Values{"expand": []string{expand}}
	}
	return c.send(ctx, c.AuthStore.Token(), http.MethodGet, recordsPath(collection)+"/"+url.PathEscape(id), query, nil, out)
}

func (c *Client) Create(ctx context.Context, collection string, body, out interface{}) error {
	return c.send(ctx, c.AuthStore.Token(), http.MethodPost, recordsPath(collection), nil, body, out)
}

func (c *Client) Update(ctx context.Context, collection, id string, body, out interface{}) error {
	return c.send(ctx, c.AuthStore.Token(), http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), nil, body, out)
}

func recordsPath(collection string) string {
	return fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection))
}

func (c *Client) send(ctx context.Context, token, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pocketbase request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pocketbase response: %w", err)
	}
	return nil
}
