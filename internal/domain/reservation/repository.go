// Package reservation provides the reservation engine: soft commitments of
// stock to demand documents, tracked separately from physical movements.
package reservation

import (
	"context"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
)

// Repository defines persistence for reservations and their allocations.
type Repository interface {
	// Create inserts r with its allocations and sets the IDs.
	Create(ctx context.Context, r *entity.Reservation) error

	// LockByID returns the reservation with allocations, locked for update.
	// Unknown IDs yield a ReservationNotFound AppError.
	LockByID(ctx context.Context, reservationID int64) (*entity.Reservation, error)

	// Get returns the reservation with allocations without locking.
	Get(ctx context.Context, reservationID int64) (*entity.Reservation, error)

	// Update writes status, releasedQty, updatedAt and allocation released quantities.
	Update(ctx context.Context, r *entity.Reservation) error

	// ListByDemand returns reservations of a demand document ordered by ID.
	ListByDemand(ctx context.Context, demand entity.DemandRef) ([]entity.Reservation, error)
}

// Mover applies the stock-decrementing movement paired with a release,
// inside the caller's transaction and without reporting it.
// Implemented by *ledger.Service.
type Mover interface {
	PostMovement(ctx context.Context, req ledger.MovementRequest) (*entity.TransactionEntry, error)
}
