package models

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the record store for orders, license keys and users.
// Implemented by the PocketBase store and by the Postgres store.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, id string, update OrderUpdate) (*Order, error)
	FindOrders(ctx context.Context, query OrderQuery) ([]*Order, error)
	// ListAllOrders returns every order, newest first, with users resolved for search.
	ListAllOrders(ctx context.Context) ([]*Order, map[string]*User, error)

	CreateLicense(ctx context.Context, license *LicenseKey) error
	GetLicense(ctx context.Context, id string) (*LicenseKey, error)
	UpdateLicenseStatus(ctx context.Context, id string, status LicenseStatus) error
	ListLicenses(ctx context.Context, filter LicenseFilter, page Page) (*LicensePage, error)
	CountLicenses(ctx context.Context, filter LicenseFilter) (int, error)

	ListUsers(ctx context.Context, search string, page Page) ([]*User, int, error)
}
