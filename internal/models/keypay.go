package models

import (
	"context"
	"time"
)

// KeypayI is the application service behind the HTTP API and the CLI.
type KeypayI interface {
	// Start runs the background workers until ctx is cancelled
	Start(ctx context.Context)

	// EnsureOrder returns a recent reusable pending order or creates a new one
	EnsureOrder(ctx context.Context, caller *Principal) (*Order, error)
	CreateOrder(ctx context.Context, caller *Principal) (*Order, error)

	// VerifyOrder checks the chain for the order payment and issues a license on a match
	VerifyOrder(ctx context.Context, caller *Principal, orderID string) (*VerifyResult, error)
	// IssueLicense confirms an order manually and links a license to it. Admin only.
	IssueLicense(ctx context.Context, caller *Principal, orderID string) (*VerifyResult, error)
	ListOrders(ctx context.Context, caller *Principal, search string) ([]Order, error)

	ListLicenses(ctx context.Context, caller *Principal, filter LicenseFilter, page Page) (*LicensePage, error)
	CreateLicenses(ctx context.Context, caller *Principal, req CreateLicensesRequest) ([]LicenseKey, error)
	SetLicenseStatus(ctx context.Context, caller *Principal, id string, status LicenseStatus) error
	BatchSetLicenseStatus(ctx context.Context, caller *Principal, ids []string, status LicenseStatus) (int, error)
	ListUsers(ctx context.Context, caller *Principal, search string, page Page) ([]UserSummary, int, error)

	// PayAddress is the address new orders are paid to
	PayAddress() string
}

// APIServer is the public HTTP surface.
type APIServer interface {
	Start()
	Shutdown() error
}

type LicenseRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// VerifyResult is the outcome of an order verification.
// Checked is false when no explorer could be reached, so "not confirmed"
// means the payment state is unknown rather than unpaid.
type VerifyResult struct {
	Confirmed bool        `json:"confirmed"`
	Status    OrderStatus `json:"status"`
	TxID      string      `json:"txid,omitempty"`
	License   *LicenseRef `json:"license,omitempty"`
	Message   string      `json:"message,omitempty"`
	Checked   bool        `json:"checked"`
	Provider  string      `json:"provider,omitempty"`
	// NeedsReconciliation marks a confirmed order that has no license key.
	NeedsReconciliation bool `json:"needs_reconciliation,omitempty"`
}

type CreateLicensesRequest struct {
	User     string `json:"user"`
	Quantity int    `json:"quantity"`
	// CustomCode is only allowed when Quantity is 1.
	CustomCode string     `json:"custom_code,omitempty"`
	Note       string     `json:"note,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}
