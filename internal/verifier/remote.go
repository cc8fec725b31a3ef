package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRemoteNotImplemented means the server has no verification endpoint (HTTP 404).
// Callers fall back to on-chain verification.
var ErrRemoteNotImplemented = errors.New("remote verification endpoint not implemented")

// DefaultRemotePath is the verification path tried when none is configured
const DefaultRemotePath = "/api/verify-order"

type RemoteLicense struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
}

// RemoteResponse is the body of a server-side verification endpoint.
type RemoteResponse struct {
	Confirmed bool           `json:"confirmed"`
	Status    string         `json:"status,omitempty"`
	TxID      string         `json:"txid,omitempty"`
	License   *RemoteLicense `json:"license,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// RemoteClient calls a server-side verification endpoint.
type RemoteClient struct {
	url    string
	token  string
	client *http.Client
}

// NewRemoteClient builds the endpoint URL from a base URL and a path, tolerating
// missing or duplicated slashes.
func NewRemoteClient(baseURL, path, token string) *RemoteClient {
	if path == "" {
		path = DefaultRemotePath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &RemoteClient{
		url:    strings.TrimRight(baseURL, "/") + path,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RemoteClient) URL() string {
	return c.url
}

// VerifyOrder asks the server to verify an order.
func (c *RemoteClient) VerifyOrder(ctx context.Context, orderID string) (*RemoteResponse, error) {
	body, err := json.Marshal(map[string]string{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call verify endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRemoteNotImplemented
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read verify response: %w", err)
	}
	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errorMessage(payload, isJSON, resp.StatusCode))
	}
	if !isJSON {
		return nil, errors.New("verify endpoint returned non-json response")
	}

	var out RemoteResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &out, nil
}

func errorMessage(payload []byte, isJSON bool, status int) string {
	if isJSON {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			if body.Message != "" {
				return body.Message
			}
			if body.Error != "" {
				return body.Error
			}
		}
		return fmt.Sprintf("HTTP %d", status)
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
