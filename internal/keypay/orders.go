package keypay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keypay/keypay/internal/license"
	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/internal/verifier"
)

var _ models.KeypayI = (*Keypay)(nil)

// userOrderLimit caps the order history returned to a regular user.
const userOrderLimit = 50

// EnsureOrder reuses the caller's newest pending order for the current pay
// address if it was created within the reuse window and has not expired.
func (k *Keypay) EnsureOrder(ctx context.Context, caller *models.Principal) (*models.Order, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	address := k.wallets.PayAddress()
	if address == "" {
		return nil, models.ErrNoPayAddress
	}

	now := k.now()
	recent, err := k.repo.FindOrders(ctx, models.OrderQuery{
		User:         caller.ID,
		Status:       models.OrderPending,
		Address:      address,
		Chain:        models.ChainTRC20,
		CreatedAfter: now.Add(-k.config.OrderReuseWindow()),
		ExpiresAfter: now,
		Limit:        1,
	})
	if err != nil {
		k.logger.Warnw("Failed to look up recent order, creating a new one", "user", caller.ID, "error", err)
	} else if len(recent) > 0 {
		k.logger.Debugw("Reusing recent order", "order", recent[0].ID, "user", caller.ID)
		return recent[0], nil
	}

	return k.CreateOrder(ctx, caller)
}

// CreateOrder creates a pending order with a unique amount.
func (k *Keypay) CreateOrder(ctx context.Context, caller *models.Principal) (*models.Order, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	address := k.wallets.PayAddress()
	if address == "" {
		return nil, models.ErrNoPayAddress
	}

	amount, err := license.GenerateAmount(k.wallets.BasePrice())
	if err != nil {
		return nil, err
	}

	now := k.now()
	order := &models.Order{
		User:      caller.ID,
		Address:   address,
		Amount:    amount,
		Status:    models.OrderPending,
		ExpiresAt: now.Add(k.config.OrderExpiry()),
		TxID:      license.TempTxID(now),
		Chain:     models.ChainTRC20,
		Token:     models.TokenUSDT,
	}
	if err := k.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	k.logger.Infow("Order created", "order", order.ID, "user", caller.ID, "amount", amount, "address", address)
	return order, nil
}

// VerifyOrder checks the chain for the order payment. Owners and admins only.
func (k *Keypay) VerifyOrder(ctx context.Context, caller *models.Principal, orderID string) (*models.VerifyResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	order, err := k.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin && order.User != caller.ID {
		return nil, models.ErrForbidden
	}
	return k.verify(ctx, order)
}

func (k *Keypay) getOrder(ctx context.Context, id string) (*models.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: order id is required", models.ErrInvalidArgument)
	}
	order, err := k.repo.GetOrder(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrOrderNotFound
	}
	return order, err
}

func (k *Keypay) verify(ctx context.Context, order *models.Order) (*models.VerifyResult, error) {
	current := order.Normalize()
	switch current.Status {
	case models.OrderConfirmed:
		return k.currentState(ctx, &current), nil
	case models.OrderExpired:
		return nil, models.ErrOrderExpired
	case models.OrderFailed:
		return &models.VerifyResult{Status: current.Status, Message: "order failed"}, nil
	}

	if order.IsExpired(k.now()) {
		expired := models.OrderExpired
		if _, err := k.repo.UpdateOrder(ctx, order.ID, models.OrderUpdate{Status: &expired}); err != nil {
			k.logger.Errorw("Failed to mark order expired", "order", order.ID, "error", err)
		}
		return nil, models.ErrOrderExpired
	}

	if order.ChainOrDefault() != models.ChainTRC20 {
		return nil, models.ErrUnsupportedChain
	}

	res, err := k.verifier.Verify(ctx, verifier.Request{
		Address:   order.Address,
		Amount:    order.Amount,
		NotBefore: order.Created,
		Policy:    k.config.Policy(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify order %s: %w", order.ID, err)
	}

	switch res.Outcome {
	case verifier.OutcomeNoData:
		return &models.VerifyResult{
			Status:  order.Status,
			Checked: false,
			Message: "no explorer could be reached, payment state unknown",
		}, nil
	case verifier.OutcomeNotFound:
		return &models.VerifyResult{
			Status:   order.Status,
			Checked:  true,
			Provider: res.Provider,
			Message:  "no matching transfer found yet",
		}, nil
	}

	result, err := k.confirm(ctx, order, res.TxID)
	if err != nil {
		return nil, err
	}
	result.Provider = res.Provider
	return result, nil
}

// currentState reports an already confirmed order without touching the chain.
func (k *Keypay) currentState(ctx context.Context, order *models.Order) *models.VerifyResult {
	result := &models.VerifyResult{
		Confirmed: true,
		Status:    models.OrderConfirmed,
		Checked:   true,
		Message:   "order already confirmed",
	}
	if !license.IsTempTxID(order.TxID) {
		result.TxID = order.TxID
	}
	if order.LicenseKey == "" {
		result.NeedsReconciliation = true
		return result
	}
	result.License = &models.LicenseRef{ID: order.LicenseKey}
	if lic, err := k.repo.GetLicense(ctx, order.LicenseKey); err == nil {
		result.License.Code = lic.Code
	} else {
		k.logger.Warnw("Failed to load order license", "order", order.ID, "license", order.LicenseKey, "error", err)
	}
	return result
}

// confirm records a matched transfer on the order, then issues and links a license.
// These are separate writes; a license failure leaves the order confirmed
// without a key and an admin is notified to issue it.
func (k *Keypay) confirm(ctx context.Context, order *models.Order, txid string) (*models.VerifyResult, error) {
	others, err := k.repo.FindOrders(ctx, models.OrderQuery{TxID: txid, Limit: 2})
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction reuse: %w", err)
	}
	for _, other := range others {
		if other.ID != order.ID {
			k.logger.Warnw("Transaction already used by another order", "order", order.ID, "other", other.ID, "txid", txid)
			return nil, models.ErrDuplicateTx
		}
	}

	confirmed := models.OrderConfirmed
	chain, token := models.ChainTRC20, models.TokenUSDT
	updated, err := k.repo.UpdateOrder(ctx, order.ID, models.OrderUpdate{
		Status: &confirmed,
		TxID:   &txid,
		Chain:  &chain,
		Token:  &token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}
	k.logger.Infow("Order payment confirmed", "order", order.ID, "txid", txid)

	result := &models.VerifyResult{
		Confirmed: true,
		Status:    models.OrderConfirmed,
		TxID:      txid,
		Checked:   true,
	}

	lic, err := k.attachLicense(ctx, updated)
	if err != nil {
		k.logger.Warnw("Order confirmed but license issuance failed", "order", order.ID, "error", err)
		k.notify(&models.Notification{
			Kind:    models.NotificationLicenseIssueFailed,
			OrderID: order.ID,
			User:    order.User,
			Amount:  order.Amount,
			TxID:    txid,
			Error:   err.Error(),
		})
		result.NeedsReconciliation = true
		result.Message = "payment confirmed, the license key will be issued by an administrator"
		return result, nil
	}

	result.License = &models.LicenseRef{ID: lic.ID, Code: lic.Code}
	result.Message = "payment confirmed"
	k.notify(&models.Notification{
		Kind:    models.NotificationOrderConfirmed,
		OrderID: order.ID,
		User:    order.User,
		Amount:  order.Amount,
		TxID:    txid,
		License: lic.Code,
	})
	return result, nil
}

// attachLicense ensures the order has a license and links it.
func (k *Keypay) attachLicense(ctx context.Context, order *models.Order) (*models.LicenseKey, error) {
	lic, err := k.EnsureLicense(ctx, order)
	if err != nil {
		return nil, err
	}
	if order.LicenseKey != lic.ID {
		if _, err := k.repo.UpdateOrder(ctx, order.ID, models.OrderUpdate{LicenseKey: &lic.ID}); err != nil {
			return nil, fmt.Errorf("failed to link license %s: %w", lic.ID, err)
		}
	}
	return lic, nil
}

// EnsureLicense returns the license issued for the order, creating it if none exists.
// Keys are found through the order note so a retried issuance never duplicates one.
func (k *Keypay) EnsureLicense(ctx context.Context, order *models.Order) (*models.LicenseKey, error) {
	if order.LicenseKey != "" {
		lic, err := k.repo.GetLicense(ctx, order.LicenseKey)
		if err == nil {
			return lic, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to load license %s: %w", order.LicenseKey, err)
		}
	}

	note := models.OrderNote(order.ID)
	existing, err := k.repo.ListLicenses(ctx, models.LicenseFilter{Note: note}, models.Page{Page: 1, PerPage: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to look up order license: %w", err)
	}
	if len(existing.Items) > 0 {
		lic := existing.Items[0]
		k.logger.Debugw("Reusing order license", "order", order.ID, "license", lic.ID)
		return &lic, nil
	}

	code, err := license.GenerateCode()
	if err != nil {
		return nil, err
	}
	now := k.now()
	lic := &models.LicenseKey{
		Code:        code,
		User:        order.User,
		Status:      models.LicenseUnused,
		PurchasedAt: &now,
		Note:        note,
	}
	if err := k.repo.CreateLicense(ctx, lic); err != nil {
		return nil, err
	}
	k.logger.Infow("License issued", "order", order.ID, "license", lic.ID)
	return lic, nil
}

// IssueLicense confirms the order manually and links a license to it.
func (k *Keypay) IssueLicense(ctx context.Context, caller *models.Principal, orderID string) (*models.VerifyResult, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	order, err := k.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lic, err := k.EnsureLicense(ctx, order)
	if err != nil {
		return nil, err
	}
	confirmed := models.OrderConfirmed
	if _, err := k.repo.UpdateOrder(ctx, order.ID, models.OrderUpdate{Status: &confirmed, LicenseKey: &lic.ID}); err != nil {
		return nil, fmt.Errorf("failed to link license %s: %w", lic.ID, err)
	}
	k.logger.Infow("License issued manually", "order", order.ID, "license", lic.ID, "admin", caller.ID)

	result := &models.VerifyResult{
		Confirmed: true,
		Status:    models.OrderConfirmed,
		License:   &models.LicenseRef{ID: lic.ID, Code: lic.Code},
		Checked:   true,
		Message:   "license issued",
	}
	if !license.IsTempTxID(order.TxID) {
		result.TxID = order.TxID
	}
	return result, nil
}

// ListOrders returns every order to admins, optionally filtered by order id,
// user id or user email, and the latest orders of the caller otherwise.
func (k *Keypay) ListOrders(ctx context.Context, caller *models.Principal, search string) ([]models.Order, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	if !caller.IsSuperAdmin {
		orders, err := k.repo.FindOrders(ctx, models.OrderQuery{User: caller.ID, Limit: userOrderLimit})
		if err != nil {
			return nil, err
		}
		return normalizeAll(orders, nil), nil
	}

	orders, users, err := k.repo.ListAllOrders(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return normalizeAll(orders, nil), nil
	}
	return normalizeAll(orders, func(o *models.Order) bool {
		if strings.Contains(strings.ToLower(o.ID), q) || strings.Contains(strings.ToLower(o.User), q) {
			return true
		}
		u, ok := users[o.User]
		return ok && strings.Contains(strings.ToLower(u.Email), q)
	}), nil
}

func normalizeAll(orders []*models.Order, keep func(*models.Order) bool) []models.Order {
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if keep != nil && !keep(o) {
			continue
		}
		out = append(out, o.Normalize())
	}
	return out
}
