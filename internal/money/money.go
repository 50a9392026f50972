// Package money holds the integer minor-unit arithmetic shared by vouchers,
// pricing and payment reconciliation. Rupiah has no fractional unit, so a
// Money value is always a whole number of rupiah.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

var (
	// ErrInvalidAmount is returned when an amount string is not a decimal number.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrFractionalAmount is returned when an amount carries a non-zero fraction.
	ErrFractionalAmount = errors.New("amount has a fractional part")
	// ErrOverflow is returned when a product or sum does not fit in Money.
	ErrOverflow = errors.New("amount overflows")
)

var hundred = decimal.NewFromInt(100)

// Percent returns floor(amount * pct / 100). Non-positive inputs yield zero.
func Percent(amount Money, pct int64) Money {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(pct)).
		Div(hundred).
		Floor().
		IntPart()
}

// LineTotal multiplies a non-negative unit price by a quantity.
func LineTotal(price Money, qty int) (Money, error) {
	if qty <= 0 {
		return 0, nil
	}
	return Mul(price, int64(qty))
}

// Mul returns a*b for non-negative operands, or ErrOverflow.
func Mul(a Money, b int64) (Money, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// Add returns a+b for non-negative operands, or ErrOverflow.
func Add(a, b Money) (Money, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubFloor returns a-b, never below zero.
func SubFloor(a, b Money) Money {
	if b >= a {
		return 0
	}
	return a - b
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi Money) Money {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseAmount parses a gateway amount such as "50000.00" without going
// through floating point. Fractions other than zero are rejected.
func ParseAmount(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", ErrFractionalAmount, raw)
	}
	return d.IntPart(), nil
}

// FormatAmount renders an amount the way the gateway reports gross_amount.
func FormatAmount(m Money) string {
	return decimal.NewFromInt(m).StringFixed(2)
}

// Rupiah formats m for display, e.g. "Rp45.000".
func Rupiah(m Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	digits := fmt.Sprint(m)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return sign + "Rp" + b.String()
}
