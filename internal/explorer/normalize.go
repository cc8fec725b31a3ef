package explorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/internal/models"
)

const (
	// MillisecondThreshold separates second and millisecond epoch timestamps.
	// Values at or above it are already milliseconds.
	MillisecondThreshold = 10_000_000_000
	// DefaultDecimals is the USDT-TRC20 precision used when a transfer does not declare one.
	DefaultDecimals = 6
)

var (
	recipientKeys = []string{"to", "to_address", "toAddress"}
	txIDKeys      = []string{"transaction_id", "transactionID", "txid", "hash", "txHash"}
	timestampKeys = []string{"block_timestamp", "timestamp", "block_ts"}
	valueKeys     = []string{"value", "amount", "quant"}
	tokenInfoKeys = []string{"token_info", "tokenInfo"}
	listKeys      = []string{"token_transfers", "data"}

	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// NormalizeTimestamp converts an explorer timestamp into epoch milliseconds.
func NormalizeTimestamp(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v >= MillisecondThreshold {
		return v
	}
	return v * 1000
}

// ToAmount converts a raw integer token value into a decimal amount.
func ToAmount(raw decimal.Decimal, decimals int32) decimal.Decimal {
	return raw.Shift(-decimals)
}

// ExtractJSON returns body unchanged when it is JSON, otherwise the first {...} span inside it.
// Some gateways wrap the explorer payload in text.
func ExtractJSON(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		return trimmed, nil
	}
	match := jsonObject.Find(trimmed)
	if match == nil || !json.Valid(match) {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return match, nil
}

// Normalize parses an explorer response body into transfers, keeping the explorer order.
func Normalize(body []byte) ([]models.Transfer, error) {
	payload, err := ExtractJSON(body)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}

	var list []interface{}
	found := false
	for _, key := range listKeys {
		if v, ok := root[key]; ok && v != nil {
			l, ok := v.([]interface{})
			if !ok {
				return nil, fmt.Errorf("field %q is not a list", key)
			}
			list = l
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("response has no transfer list")
	}

	transfers := make([]models.Transfer, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		transfers = append(transfers, normalizeEntry(entry))
	}
	return transfers, nil
}

func normalizeEntry(entry map[string]interface{}) models.Transfer {
	raw := firstDecimal(entry, valueKeys)

	decimals := int32(DefaultDecimals)
	declared := false
	for _, key := range tokenInfoKeys {
		info, ok := entry[key].(map[string]interface{})
		if !ok {
			continue
		}
		if d, ok := toInt64(info["decimals"]); ok {
			decimals = int32(d)
			declared = true
			break
		}
	}
	if !declared {
		if d, ok := toInt64(entry["decimals"]); ok {
			decimals = int32(d)
		}
	}

	var ts int64
	for _, key := range timestampKeys {
		if v, ok := toInt64(entry[key]); ok {
			ts = v
			break
		}
	}

	return models.Transfer{
		To:          firstString(entry, recipientKeys),
		Amount:      ToAmount(raw, decimals),
		TxID:        firstString(entry, txIDKeys),
		TimestampMs: NormalizeTimestamp(ts),
	}
}

func firstString(entry map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s, ok := entry[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstDecimal(entry map[string]interface{}, keys []string) decimal.Decimal {
	for _, key := range keys {
		switch v := entry[key].(type) {
		case json.Number:
			if d, err := decimal.NewFromString(v.String()); err == nil && !d.IsZero() {
				return d
			}
		case string:
			if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil && !d.IsZero() {
				return d
			}
		}
	}
	return decimal.Zero
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
