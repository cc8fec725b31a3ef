package pocketbase

import (
	"context"
	"errors"
	"net/http"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

// Accounts authenticates API callers against PocketBase. Every call uses its
// own Client so caller sessions never share an AuthStore.
type Accounts struct {
	logger  *logger.Logger
	baseURL string
}

func NewAccounts(baseURL string, logger *logger.Logger) *Accounts {
	return &Accounts{logger: logger, baseURL: baseURL}
}

// Authenticate resolves a caller token to a principal.
func (a *Accounts) Authenticate(ctx context.Context, token string) (*models.Principal, error) {
	record, err := NewClient(a.baseURL, a.logger).Identify(ctx, token)
	if err != nil {
		return nil, authErr(err)
	}
	return record.Principal(), nil
}

// Login tries the users collection first and falls back to superusers.
func (a *Accounts) Login(ctx context.Context, email, password string) (string, *models.Principal, error) {
	client := NewClient(a.baseURL, a.logger)
	record, err := client.AuthWithPassword(ctx, UsersCollection, email, password)
	if err != nil {
		if !isCredentialsError(err) {
			return "", nil, err
		}
		record, err = client.AdminAuthWithPassword(ctx, email, password)
		if err != nil {
			return "", nil, authErr(err)
		}
	}
	return client.AuthStore.Token(), record.Principal(), nil
}

func (a *Accounts) Register(ctx context.Context, email, password, passwordConfirm string) (string, *models.Principal, error) {
	client := NewClient(a.baseURL, a.logger)
	record, err := client.Register(ctx, email, password, passwordConfirm)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return "", nil, errors.Join(models.ErrInvalidArgument, err)
		}
		return "", nil, err
	}
	return client.AuthStore.Token(), record.Principal(), nil
}

func isCredentialsError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func authErr(err error) error {
	if errors.Is(err, ErrNotAuthenticated) || isCredentialsError(err) {
		return models.ErrUnauthorized
	}
	return err
}
