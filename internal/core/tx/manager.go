// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the Postgres implementation
// lives in infrastructure/storage/postgres and an in-process one in
// infrastructure/storage/memory.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// Everything fn does through repositories that read ctx happens in one
// all-or-nothing unit: if fn returns an error, or ctx is cancelled before
// commit, no write survives. Row locks taken inside fn are held until the
// unit ends.
//
// Nested calls reuse the existing transaction from context.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transaction support.
// Use for multi-query reads that need one consistent snapshot.
type ReadOnlyManager interface {
	Manager

	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
