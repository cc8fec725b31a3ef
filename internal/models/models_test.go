package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderNormalize(t *testing.T) {
	o := Order{Status: OrderPending, LicenseKey: "k1"}
	assert.Equal(t, OrderConfirmed, o.Normalize().Status)
	assert.Equal(t, OrderPending, o.Status, "receiver must not change")

	assert.Equal(t, OrderExpired, Order{Status: OrderExpired}.Normalize().Status)
}

func TestOrderIsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, Order{ExpiresAt: now.Add(-time.Second)}.IsExpired(now))
	assert.False(t, Order{ExpiresAt: now.Add(time.Minute)}.IsExpired(now))
	assert.False(t, Order{}.IsExpired(now))
}

func TestChainOrDefault(t *testing.T) {
	assert.Equal(t, ChainTRC20, Order{}.ChainOrDefault())
	assert.Equal(t, "ERC20", Order{Chain: "ERC20"}.ChainOrDefault())
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, PerPage: 20}, Page{}.Normalize(20))
	assert.Equal(t, Page{Page: 3, PerPage: 500}, Page{Page: 3, PerPage: 10000}.Normalize(20))
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 1, TotalPages(0, 20))
	assert.Equal(t, 1, TotalPages(20, 20))
	assert.Equal(t, 2, TotalPages(21, 20))
	assert.Equal(t, 1, TotalPages(5, 0))
}

func TestLicenseStatusValid(t *testing.T) {
	for _, s := range []LicenseStatus{LicenseUnused, LicenseUsed, LicenseBanned, LicenseExpired} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, LicenseStatus("revoked").Valid())
}

func TestNotificationString(t *testing.T) {
	ok := &Notification{Kind: NotificationOrderConfirmed, OrderID: "o1", User: "u1", Amount: "2.0371", TxID: "tx", License: "ABCD"}
	assert.Equal(t, "Order o1 confirmed: 2.0371 USDT from user u1, tx tx, license ABCD", ok.String())

	failed := &Notification{Kind: NotificationLicenseIssueFailed, OrderID: "o1", Amount: "2", TxID: "tx", Error: "boom"}
	assert.Contains(t, failed.String(), "no license key could be issued: boom")
}
