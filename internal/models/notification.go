package models

import "fmt"

type NotificationKind string

const (
	NotificationOrderConfirmed     NotificationKind = "order_confirmed"
	NotificationLicenseIssueFailed NotificationKind = "license_issue_failed"
)

type NotificationService interface {
	SendNotification(notification *Notification)
}

type Notification struct {
	Kind    NotificationKind `json:"kind"`
	OrderID string           `json:"order_id"`
	User    string           `json:"user"`
	Amount  string           `json:"amount"`
	TxID    string           `json:"txid"`
	License string           `json:"license,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (n *Notification) String() string {
	switch n.Kind {
	case NotificationLicenseIssueFailed:
		return fmt.Sprintf("Order %s is confirmed (tx %s, %s USDT) but no license key could be issued: %s. Please issue it manually.",
			n.OrderID, n.TxID, n.Amount, n.Error)
	default:
		return fmt.Sprintf("Order %s confirmed: %s USDT from user %s, tx %s, license %s",
			n.OrderID, n.Amount, n.User, n.TxID, n.License)
	}
}
