package pocketbase

import (
	"context"
	"errors"
	"time"
)

// LoginFunc re-establishes the session of a Client.
type LoginFunc func(ctx context.Context) error

// KeepAlive refreshes the stored session every interval until ctx is done.
// An expired or rejected session is replaced by calling login.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration, login LoginFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.renewSession(ctx, login); err != nil {
				c.logger.Errorw("Failed to renew PocketBase session", "error", err)
			}
		}
	}
}

func (c *Client) renewSession(ctx context.Context, login LoginFunc) error {
	if !c.AuthStore.IsValid() {
		c.logger.Infow("PocketBase session expired, logging in again")
		return login(ctx)
	}

	err := c.AuthRefresh(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotAuthenticated) || IsUnauthorized(err) {
		return login(ctx)
	}
	return err
}

// LogSessionChanges logs every save and clear of the session.
// The returned function stops logging.
func (c *Client) LogSessionChanges() func() {
	return c.AuthStore.OnChange(func(token string, record *AuthRecord) {
		if token == "" || record == nil {
			c.logger.Warnw("PocketBase session cleared")
			return
		}
		c.logger.Infow("PocketBase session updated",
			"record", record.ID,
			"collection", record.CollectionName,
			"superuser", record.IsSuperAdmin(),
			"valid", c.AuthStore.IsValid(),
		)
	})
}
