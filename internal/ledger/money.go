package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string ("125.50") into minor units. The
// amount must be strictly positive and carry at most two fraction digits.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	return amountToMinor(d)
}

func amountToMinor(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := d.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount out of range", ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units with exactly two decimal places, the form
// bound into record hashes ("12.30", not "12.3").
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// NormalizeCurrency validates and upper-cases a three-letter currency code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}
