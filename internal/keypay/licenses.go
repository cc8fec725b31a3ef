package keypay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keypay/keypay/internal/license"
	"github.com/keypay/keypay/internal/models"
)

const maxLicenseBatch = 20

// ListLicenses pages through license keys. Regular users only see their own.
func (k *Keypay) ListLicenses(ctx context.Context, caller *models.Principal, filter models.LicenseFilter, page models.Page) (*models.LicensePage, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin {
		filter.User = caller.ID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidArgument, filter.Status)
	}
	switch filter.Expiry {
	case "", models.ExpiryAll, models.ExpirySoon, models.ExpiryExpired:
	default:
		return nil, fmt.Errorf("%w: unknown expiry filter %q", models.ErrInvalidArgument, filter.Expiry)
	}
	filter.Keyword = strings.TrimSpace(filter.Keyword)
	if filter.Now.IsZero() {
		filter.Now = k.now()
	}
	return k.repo.ListLicenses(ctx, filter, page.Normalize(20))
}

// CreateLicenses issues a batch of unused keys for a user.
// On a partial failure the keys created so far are returned with the error.
func (k *Keypay) CreateLicenses(ctx context.Context, caller *models.Principal, req models.CreateLicensesRequest) ([]models.LicenseKey, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.User) == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	if req.Quantity < 1 || req.Quantity > maxLicenseBatch {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", models.ErrInvalidArgument, maxLicenseBatch)
	}
	custom := strings.TrimSpace(req.CustomCode)
	if custom != "" && req.Quantity > 1 {
		return nil, fmt.Errorf("%w: a custom code can only be used for a single key", models.ErrInvalidArgument)
	}

	now := k.now()
	created := make([]models.LicenseKey, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		code := custom
		if code == "" {
			var err error
			if code, err = license.GenerateCode(); err != nil {
				return created, err
			}
		}
		purchased := now
		lic := &models.LicenseKey{
			Code:        code,
			User:        req.User,
			Status:      models.LicenseUnused,
			PurchasedAt: &purchased,
			ExpiresAt:   req.ExpiresAt,
			Note:        strings.TrimSpace(req.Note),
		}
		if err := k.repo.CreateLicense(ctx, lic); err != nil {
			return created, fmt.Errorf("created %d of %d license keys: %w", len(created), req.Quantity, err)
		}
		created = append(created, *lic)
	}

	k.logger.Infow("License keys created", "user", req.User, "count", len(created), "admin", caller.ID)
	return created, nil
}

// SetLicenseStatus changes one key status, e.g. to ban or unban it.
func (k *Keypay) SetLicenseStatus(ctx context.Context, caller *models.Principal, id string, status models.LicenseStatus) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidArgument, status)
	}
	if err := k.repo.UpdateLicenseStatus(ctx, id, status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrLicenseNotFound
		}
		return err
	}
	k.logger.Infow("License status changed", "license", id, "status", status, "admin", caller.ID)
	return nil
}

// BatchSetLicenseStatus applies status to every id and returns how many were updated.
// Failures do not stop the batch; they are returned joined.
func (k *Keypay) BatchSetLicenseStatus(ctx context.Context, caller *models.Principal, ids []string, status models.LicenseStatus) (int, error) {
	if err := requireAdmin(caller); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no license ids given", models.ErrInvalidArgument)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", models.ErrInvalidArgument, status)
	}

	var (
		updated int
		errs    []error
	)
	for _, id := range ids {
		if err := k.repo.UpdateLicenseStatus(ctx, id, status); err != nil {
			errs = append(errs, fmt.Errorf("license %s: %w", id, err))
			continue
		}
		updated++
	}
	k.logger.Infow("License status batch applied", "status", status, "updated", updated, "failed", len(errs), "admin", caller.ID)
	return updated, errors.Join(errs...)
}

// ListUsers pages through users with their license statistics.
func (k *Keypay) ListUsers(ctx context.Context, caller *models.Principal, search string, page models.Page) ([]models.UserSummary, int, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, 0, err
	}
	users, total, err := k.repo.ListUsers(ctx, strings.TrimSpace(search), page.Normalize(50))
	if err != nil {
		return nil, 0, err
	}

	now := k.now()
	out := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		stats, err := k.userStats(ctx, u.ID, now)
		if err != nil {
			k.logger.Warnw("Failed to load user license stats", "user", u.ID, "error", err)
		}
		out = append(out, models.UserSummary{User: *u, Stats: stats})
	}
	return out, total, nil
}

func (k *Keypay) userStats(ctx context.Context, userID string, now time.Time) (models.UserStats, error) {
	var stats models.UserStats
	counts := []struct {
		dst    *int
		filter models.LicenseFilter
	}{
		{&stats.Total, models.LicenseFilter{User: userID}},
		{&stats.Banned, models.LicenseFilter{User: userID, Status: models.LicenseBanned}},
		{&stats.Soon, models.LicenseFilter{User: userID, Expiry: models.ExpirySoon, Now: now}},
		{&stats.Expired, models.LicenseFilter{User: userID, Expiry: models.ExpiryExpired, Now: now}},
	}
	for _, c := range counts {
		n, err := k.repo.CountLicenses(ctx, c.filter)
		if err != nil {
			return stats, err
		}
		*c.dst = n
	}
	return stats, nil
}
