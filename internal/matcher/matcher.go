package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/validation"
)

// Policy decides whether a transfer amount satisfies an expected amount.
type Policy string

const (
	// Tolerance accepts amounts within AmountTolerance of the expected amount.
	// Used where every order carries a unique amount suffix.
	Tolerance Policy = "tolerance"
	// AtLeast accepts any amount greater than or equal to the expected amount.
	AtLeast Policy = "at_least"
)

// AmountTolerance is the absolute tolerance of the Tolerance policy.
var AmountTolerance = decimal.RequireFromString("0.00005")

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case Tolerance, AtLeast:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown match policy %q", s)
}

// Accepts reports whether amount satisfies expected under the policy.
func (p Policy) Accepts(amount, expected decimal.Decimal) bool {
	switch p {
	case AtLeast:
		return amount.GreaterThanOrEqual(expected)
	default:
		return amount.Sub(expected).Abs().LessThanOrEqual(AmountTolerance)
	}
}

// Criteria describes the payment being looked for.
type Criteria struct {
	Address string
	Amount  decimal.Decimal
	// NotBeforeMs is the earliest acceptable transfer time in epoch milliseconds.
	NotBeforeMs int64
}

// Matches reports whether a single transfer satisfies the criteria.
// Transfers without a timestamp are not time-filtered.
func Matches(t models.Transfer, c Criteria, policy Policy) bool {
	if !validation.SameAddress(t.To, c.Address) {
		return false
	}
	if t.TimestampMs != 0 && t.TimestampMs < c.NotBeforeMs {
		return false
	}
	return policy.Accepts(t.Amount, c.Amount)
}

// Match returns the first transfer, in the given order, that satisfies the criteria.
func Match(transfers []models.Transfer, c Criteria, policy Policy) (models.Transfer, bool) {
	for _, t := range transfers {
		if Matches(t, c, policy) {
			return t, true
		}
	}
	return models.Transfer{}, false
}
