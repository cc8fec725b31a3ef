package models

import "errors"

var (
	ErrUnauthorized     = errors.New("authentication required")
	ErrForbidden        = errors.New("forbidden")
	ErrOrderNotFound    = errors.New("order not found")
	ErrLicenseNotFound  = errors.New("license key not found")
	ErrOrderExpired     = errors.New("order expired")
	ErrUnsupportedChain = errors.New("automatic verification is only supported for TRC20")
	ErrDuplicateTx      = errors.New("transaction already used by another order")
	ErrNoPayAddress     = errors.New("no pay address configured")
	ErrInvalidArgument  = errors.New("invalid argument")
)
