// Package id provides identities for products, warehouses, locations and batches.
// The ledger never owns these entities; it only references them.
package id

import (
	"bytes"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used for every external reference.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// ParseOptional parses s, treating the empty string as Nil.
// Location and batch dimensions are optional and stored as Nil when absent.
func ParseOptional(s string) (ID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}

// Compare orders IDs by their byte representation. Nil sorts first.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// OptionalString renders Nil as "" so absent dimensions disappear from JSON.
func OptionalString(v ID) string {
	if IsNil(v) {
		return ""
	}
	return v.String()
}
