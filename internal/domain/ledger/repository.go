// Package ledger provides the stock location ledger and its transaction log.
package ledger

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// Repository defines operations on location ledger rows.
// Lock* methods must be called inside a transaction; the returned rows stay
// locked until it ends.
type Repository interface {
	// LockOrCreate returns the row for key locked for update, inserting it with
	// zero quantities first when absent. batch is recorded only on insert.
	LockOrCreate(ctx context.Context, key entity.LedgerKey, batch *entity.BatchInfo, now time.Time) (*entity.LocationLedger, error)

	// LockExisting returns the row for key locked for update, or a NotFound AppError.
	LockExisting(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error)

	// LockByProduct locks every row of a product (optionally one warehouse),
	// ordered by key so concurrent callers acquire locks in the same order.
	LockByProduct(ctx context.Context, productID id.ID, warehouseID *id.ID) ([]*entity.LocationLedger, error)

	// Save writes balances, cost, thresholds and lastTransactionAt back.
	Save(ctx context.Context, l *entity.LocationLedger) error

	// Get returns a row without locking, or a NotFound AppError.
	Get(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error)

	// ListByProduct returns all rows of a product ordered by key.
	ListByProduct(ctx context.Context, productID id.ID) ([]entity.LocationLedger, error)

	// ListBelowMinimum returns rows whose current quantity is under min_stock_level.
	ListBelowMinimum(ctx context.Context, warehouseID *id.ID) ([]entity.LocationLedger, error)
}

// EntryRepository defines operations on the append-only transaction log.
// There is deliberately no update or delete.
type EntryRepository interface {
	// Append inserts e and sets its ID.
	Append(ctx context.Context, e *entity.TransactionEntry) error

	// Get returns an entry or an EntryNotFound AppError.
	Get(ctx context.Context, entryID int64) (*entity.TransactionEntry, error)

	// FindReversal returns the entry reversing entryID, or nil when there is none.
	FindReversal(ctx context.Context, entryID int64) (*entity.TransactionEntry, error)

	// List returns entries ordered by occurredAt, then ID.
	List(ctx context.Context, filter EntryFilter) ([]entity.TransactionEntry, error)
}

// EntryFilter for transaction log queries.
type EntryFilter struct {
	ProductID          *id.ID
	WarehouseID        *id.ID
	LocationID         *id.ID
	BatchID            *id.ID
	SourceDocumentType *entity.SourceDocumentType
	SourceDocumentID   string
	FromDate           *time.Time
	ToDate             *time.Time
	Limit              int
	Offset             int
}

// EventPublisher writes domain events in the caller's transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event entity.DomainEvent) error
}

// Metrics observes operation outcomes. err is nil on success.
type Metrics interface {
	Observe(operation string, err error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, entity.DomainEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) Observe(string, error) {}

// NopPublisher discards events.
func NopPublisher() EventPublisher { return nopPublisher{} }

// NopMetrics discards observations.
func NopMetrics() Metrics { return nopMetrics{} }
