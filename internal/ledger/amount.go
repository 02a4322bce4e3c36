package ledger

import (
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

const (
	// AmountPrecision is the number of fractional digits the ledger accepts (one stroop).
	AmountPrecision = 7
	// MaxMemoBytes is the ledger's text memo limit.
	MaxMemoBytes = 28
)

var (
	stroop    = decimal.New(1, -AmountPrecision)
	maxAmount = decimal.New(9223372036854775807, -AmountPrecision)
)

// FormatAmount truncates amount toward zero at seven decimal places and renders it
// without exponent and without trailing zeros ("1.0000000049" -> "1").
func FormatAmount(amount string) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("%w: amount %q is not numeric", domain.ErrValidation, amount)
	}
	d = d.Truncate(AmountPrecision)
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: amount must be at least %s", domain.ErrValidation, stroop.String())
	}
	if d.GreaterThan(maxAmount) {
		return "", fmt.Errorf("%w: amount exceeds ledger maximum", domain.ErrValidation)
	}
	return d.String(), nil
}

// FeeAmount converts a per-operation base fee in stroops into a native amount.
func FeeAmount(baseFee int64, ops int) decimal.Decimal {
	return decimal.New(baseFee*int64(ops), -AmountPrecision)
}

// CoversPayment reports whether balance is at least amount plus fee.
// ok is false when either value cannot be parsed, so callers can treat the check as advisory.
func CoversPayment(balance, amount string, fee decimal.Decimal) (covered bool, ok bool) {
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return false, false
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return false, false
	}
	return b.GreaterThanOrEqual(a.Add(fee)), true
}

// TruncateMemo cuts memo to MaxMemoBytes without splitting a UTF-8 sequence.
func TruncateMemo(memo string) string {
	if len(memo) <= MaxMemoBytes {
		return memo
	}
	n := MaxMemoBytes
	for n > 0 && !utf8.RuneStart(memo[n]) {
		n--
	}
	return memo[:n]
}
