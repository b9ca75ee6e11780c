// Package memory provides an in-process implementation of the ledger,
// entry and reservation repositories together with a transaction manager.
//
// A transaction holds the store-wide mutex from start to finish, so
// transactions are fully serialized. Writes made by a transaction that
// fails, panics, or whose context is cancelled before it returns are
// rolled back from a snapshot.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"stockledger/internal/core/entity"
)

// Store holds all state. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	ledgers      map[entity.LedgerKey]entity.LocationLedger
	entries      []entity.TransactionEntry
	reversals    map[int64]int64 // original entry ID -> reversal entry ID
	reservations map[int64]entity.Reservation
	events       []entity.DomainEvent
	nextResID    int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		ledgers:      make(map[entity.LedgerKey]entity.LocationLedger),
		reversals:    make(map[int64]int64),
		reservations: make(map[int64]entity.Reservation),
	}
}

type txKey struct{}

// RunInTransaction executes fn with the store locked.
// Nested calls reuse the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	// Abandoned by the caller before commit.
	if err := ctx.Err(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// ReadOnly runs fn in a transaction; the store has no separate read snapshots.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransaction(ctx, fn)
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// requireTx guards operations that take row locks.
func (s *Store) requireTx(ctx context.Context, op string) error {
	if !s.inTx(ctx) {
		return fmt.Errorf("memory: %s requires a transaction", op)
	}
	return nil
}

// read runs fn under the mutex unless ctx already holds it.
func (s *Store) read(ctx context.Context, fn func()) {
	if s.inTx(ctx) {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

type snapshot struct {
	ledgers      map[entity.LedgerKey]entity.LocationLedger
	entries      int
	reversals    map[int64]int64
	reservations map[int64]entity.Reservation
	events       int
	nextResID    int64
}

func (s *Store) snapshot() snapshot {
	reservations := make(map[int64]entity.Reservation, len(s.reservations))
	for k, r := range s.reservations {
		reservations[k] = cloneReservation(r)
	}
	return snapshot{
		ledgers:      maps.Clone(s.ledgers),
		entries:      len(s.entries),
		reversals:    maps.Clone(s.reversals),
		reservations: reservations,
		events:       len(s.events),
		nextResID:    s.nextResID,
	}
}

// restore rolls back to snap. Entries and events are append-only, so
// truncating them is enough.
func (s *Store) restore(snap snapshot) {
	s.ledgers = snap.ledgers
	s.entries = s.entries[:snap.entries]
	s.reversals = snap.reversals
	s.reservations = snap.reservations
	s.events = s.events[:snap.events]
	s.nextResID = snap.nextResID
}

// Publish records an event in the current transaction.
func (s *Store) Publish(ctx context.Context, event entity.DomainEvent) error {
	if err := s.requireTx(ctx, "publish"); err != nil {
		return err
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns the committed events in publish order.
func (s *Store) Events() []entity.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Ledgers returns the ledger repository view.
func (s *Store) Ledgers() *LedgerRepo { return &LedgerRepo{s: s} }

// Entries returns the transaction log view.
func (s *Store) Entries() *EntryRepo { return &EntryRepo{s: s} }

// Reservations returns the reservation repository view.
func (s *Store) Reservations() *ReservationRepo { return &ReservationRepo{s: s} }

func cloneReservation(r entity.Reservation) entity.Reservation {
	r.Allocations = append([]entity.ReservationAllocation(nil), r.Allocations...)
	return r
}
