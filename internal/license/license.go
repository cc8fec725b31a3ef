package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CodeAlphabet leaves out characters that are easy to confuse (0/O, 1/I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 20
	codeGroup    = 4

	amountPlaces = 4
)

// GenerateCode returns a license code such as "ABCD-EFGH-JKLM-NPQR-STUV".
func GenerateCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < codeLength; i++ {
		if i > 0 && i%codeGroup == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate license code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateAmount returns base plus a random four-digit fraction, e.g. "2.0371"
// for a base of 2. The result is never below base. The suffix
// makes concurrent orders to one address distinguishable by amount.
func GenerateAmount(base decimal.Decimal) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate amount suffix: %w", err)
	}
	amount := base.RoundCeil(amountPlaces).Add(decimal.New(n.Int64(), -amountPlaces))
	return amount.StringFixed(amountPlaces), nil
}

// TempTxID is the placeholder transaction id stored on an order before it is paid.
func TempTxID(now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("temp-%d-000000", now.UnixMilli())
	}
	return fmt.Sprintf("temp-%d-%s", now.UnixMilli(), hex.EncodeToString(buf))
}

// IsTempTxID reports whether txid is an unpaid-order placeholder.
func IsTempTxID(txid string) bool {
	return strings.HasPrefix(txid, "temp-")
}
