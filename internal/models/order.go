package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderExpired   OrderStatus = "expired"
	OrderFailed    OrderStatus = "failed"
)

const (
	// ChainTRC20 is the only chain with automatic verification
	ChainTRC20 = "TRC20"
	// TokenUSDT is the only supported token
	TokenUSDT = "USDT"
)

// Order is a time-boxed payment request awaiting an on-chain transfer.
type Order struct {
	// ID is the record identifier.
	ID string `json:"id" gorm:"column:id;primaryKey;size:32"`
	// User is the id of the owning user.
	User string `json:"user" gorm:"column:user_id;index;not null"`
	// Address is the destination address the user must pay to.
	Address string `json:"address" gorm:"column:address;not null"`
	// Amount is the expected amount as a decimal string, e.g. "2.0371".
	Amount string `json:"amount" gorm:"column:amount;not null"`
	// Status is the stored lifecycle status.
	Status OrderStatus `json:"status" gorm:"column:status;index;not null"`
	// ExpiresAt is the moment after which a pending order is no longer payable.
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at;index"`
	// TxID is the matched transaction id (or a temporary placeholder before confirmation).
	TxID string `json:"txid,omitempty" gorm:"column:txid;index"`
	// LicenseKey is the id of the license key issued for this order.
	LicenseKey string `json:"license_key,omitempty" gorm:"column:license_key"`
	Chain      string `json:"chain,omitempty" gorm:"column:chain"`
	Token      string `json:"token,omitempty" gorm:"column:token"`
	Created    time.Time `json:"created" gorm:"column:created;autoCreateTime"`
	Updated    time.Time `json:"updated" gorm:"column:updated;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Order) TableName() string {
	return "orders"
}

// Normalize returns the order with its effective display status.
// An order carrying a license key is always confirmed, whatever the stored status says.
func (o Order) Normalize() Order {
	if o.LicenseKey != "" && o.Status != OrderConfirmed {
		o.Status = OrderConfirmed
	}
	return o
}

// IsExpired reports whether the order expiry is before now.
func (o Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(now)
}

// ChainOrDefault returns the order chain, TRC20 when unset.
func (o Order) ChainOrDefault() string {
	if o.Chain == "" {
		return ChainTRC20
	}
	return o.Chain
}

// OrderUpdate carries the fields changed on an order. Nil fields are left untouched.
type OrderUpdate struct {
	Status     *OrderStatus `json:"status,omitempty"`
	TxID       *string      `json:"txid,omitempty"`
	LicenseKey *string      `json:"license_key,omitempty"`
	Chain      *string      `json:"chain,omitempty"`
	Token      *string      `json:"token,omitempty"`
}

// OrderQuery selects orders. Zero values are ignored.
type OrderQuery struct {
	User          string
	Status        OrderStatus
	Address       string
	Chain         string
	TxID          string
	CreatedAfter  time.Time
	ExpiresAfter  time.Time
	ExpiresBefore time.Time
	Limit         int
}
