// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value (unit cost, valuation) with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Quantity is a stock quantity. Stored as NUMERIC(18,4) in Postgres.
type Quantity = decimal.Decimal

// CostScale is the number of fractional digits kept for average costs.
const CostScale int32 = 6

// QuantityScale is the number of fractional digits kept for quantities.
const QuantityScale int32 = 4

// NewQuantityFromString parses a quantity. This is the preferred constructor
// for values arriving over the wire.
func NewQuantityFromString(s string) (Quantity, error) {
	return decimal.NewFromString(s)
}

// Qty creates an integral quantity.
func Qty(v int64) Quantity {
	return decimal.NewFromInt(v)
}

// MustQuantity creates a Quantity from a string, panics on error.
// Use only for constants and tests.
func MustQuantity(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	return MustQuantity(s)
}

// Zero returns the zero value.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b Quantity) Quantity {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MoneyPtr returns a pointer to a copy of m. Handy for nullable cost fields.
func MoneyPtr(m Money) *Money {
	return &m
}

// SameMoney reports whether two nullable amounts are equal (both nil, or both set and equal).
func SameMoney(a, b *Money) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
