package models

import (
	"fmt"
	"time"
)

type LicenseStatus string

const (
	LicenseUnused  LicenseStatus = "unused"
	LicenseUsed    LicenseStatus = "used"
	LicenseBanned  LicenseStatus = "banned"
	LicenseExpired LicenseStatus = "expired"
)

// Valid reports whether s is a known license status
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseUnused, LicenseUsed, LicenseBanned, LicenseExpired:
		return true
	}
	return false
}

// LicenseKey is a redeemable code bound to a server at first use.
type LicenseKey struct {
	ID          string        `json:"id" gorm:"column:id;primaryKey;size:32"`
	Code        string        `json:"code" gorm:"column:code;uniqueIndex;not null"`
	User        string        `json:"user" gorm:"column:user_id;index;not null"`
	Status      LicenseStatus `json:"status" gorm:"column:status;index;not null"`
	ServerUID   string        `json:"server_uid,omitempty" gorm:"column:server_uid"`
	ServerIP    string        `json:"server_ip,omitempty" gorm:"column:server_ip"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty" gorm:"column:expires_at;index"`
	PurchasedAt *time.Time    `json:"purchased_at,omitempty" gorm:"column:purchased_at;index"`
	FirstUsedAt *time.Time    `json:"first_used_at,omitempty" gorm:"column:first_used_at"`
	// Note is free text. Keys issued for an order carry OrderNote(orderID).
	Note string `json:"note,omitempty" gorm:"column:note;index"`
}

// TableName specifies the table name for GORM
func (LicenseKey) TableName() string {
	return "license_keys"
}

// OrderNote is the note tag linking a license key back to the order it was issued for.
func OrderNote(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

type ExpiryFilter string

const (
	ExpiryAll     ExpiryFilter = "all"
	ExpirySoon    ExpiryFilter = "soon"
	ExpiryExpired ExpiryFilter = "expired"
)

// SoonWindow is how far ahead "expiring soon" looks.
const SoonWindow = 7 * 24 * time.Hour

// LicenseFilter selects license keys. Empty fields are ignored.
type LicenseFilter struct {
	User    string
	Status  LicenseStatus
	Keyword string
	Expiry  ExpiryFilter
	Note    string
	// Now anchors the expiry filters; zero means time.Now().
	Now time.Time
}

type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize(defaultPerPage int) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > 500 {
		p.PerPage = 500
	}
	return p
}

type LicensePage struct {
	Items      []LicenseKey `json:"items"`
	Page       int          `json:"page"`
	PerPage    int          `json:"perPage"`
	TotalItems int          `json:"totalItems"`
	TotalPages int          `json:"totalPages"`
}

// TotalPages computes the page count, never less than one.
func TotalPages(totalItems, perPage int) int {
	if perPage <= 0 || totalItems <= 0 {
		return 1
	}
	return (totalItems + perPage - 1) / perPage
}
