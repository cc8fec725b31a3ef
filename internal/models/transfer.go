package models

import "github.com/shopspring/decimal"

// Transfer is an explorer transfer normalized into one shape for matching. Never persisted.
type Transfer struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	TxID   string          `json:"txid"`
	// TimestampMs is the transfer time in epoch milliseconds, 0 when the explorer gave none.
	TimestampMs int64 `json:"timestamp_ms"`
}
