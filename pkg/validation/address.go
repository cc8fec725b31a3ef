package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// tronAddressLength is the length of a base58check TRON address
	tronAddressLength = 34
	base58Alphabet    = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// ValidateAddress validates a TRON (base58) address format
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(addr, "T") {
		return fmt.Errorf("invalid address prefix: expected T, got %q", addr[:1])
	}

	if len(addr) != tronAddressLength {
		return fmt.Errorf("invalid address length: expected %d characters, got %d", tronAddressLength, len(addr))
	}

	for i, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return fmt.Errorf("invalid base58 character %q at position %d", r, i)
		}
	}

	return nil
}

// NormalizeAddress converts an address to its comparison form.
// Explorer APIs are inconsistent about case, so comparisons are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress reports whether two addresses are equal ignoring case and surrounding spaces
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ParseAmount parses a decimal amount string and requires it to be strictly positive
func ParseAmount(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return d, nil
}
