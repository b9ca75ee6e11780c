package entity

import (
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationReserved          ReservationStatus = "reserved"
	ReservationPartiallyReleased ReservationStatus = "partially_released"
	ReservationReleased          ReservationStatus = "released"
	ReservationCancelled         ReservationStatus = "cancelled"
)

// IsActive reports whether a reservation in status s still holds stock.
func (s ReservationStatus) IsActive() bool {
	return s == ReservationReserved || s == ReservationPartiallyReleased
}

// DemandRef points at the document demanding stock (e.g. a sales order line).
type DemandRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Reservation is a soft commitment of stock to a demand document.
type Reservation struct {
	ID int64 `db:"id" json:"id"`

	ProductID  id.ID  `db:"product_id" json:"productId"`
	DemandType string `db:"demand_type" json:"demandType"`
	DemandID   string `db:"demand_id" json:"demandId"`

	RequestedQty types.Quantity    `db:"requested_qty" json:"requestedQty"`
	ReleasedQty  types.Quantity    `db:"released_qty" json:"releasedQty"`
	Status       ReservationStatus `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Allocations are the ledgers the reservation drew from, in draw order.
	Allocations []ReservationAllocation `db:"-" json:"allocations"`
}

// NewReservation creates a reservation in status Reserved.
func NewReservation(productID id.ID, demand DemandRef, qty types.Quantity, now time.Time) *Reservation {
	return &Reservation{
		ProductID:    productID,
		DemandType:   demand.Type,
		DemandID:     demand.ID,
		RequestedQty: qty,
		ReleasedQty:  types.Zero(),
		Status:       ReservationReserved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Demand returns the demanding document reference.
func (r *Reservation) Demand() DemandRef {
	return DemandRef{Type: r.DemandType, ID: r.DemandID}
}

// RemainingQty is requested minus released.
func (r *Reservation) RemainingQty() types.Quantity {
	return r.RequestedQty.Sub(r.ReleasedQty)
}

// ReleasableQty is what a Release may still take: the remainder while active, zero otherwise.
func (r *Reservation) ReleasableQty() types.Quantity {
	if !r.Status.IsActive() {
		return types.Zero()
	}
	return r.RemainingQty()
}

// IsActive reports whether the reservation still contributes to reserved stock.
func (r *Reservation) IsActive() bool {
	return r.Status.IsActive()
}

// RefreshStatus derives the status from the released quantity.
// Cancelled is terminal and left untouched.
func (r *Reservation) RefreshStatus() {
	if r.Status == ReservationCancelled {
		return
	}
	r.Status = StatusFor(r.RequestedQty, r.ReleasedQty)
}

// StatusFor derives the status of a non-cancelled reservation.
func StatusFor(requested, released types.Quantity) ReservationStatus {
	switch {
	case released.GreaterThanOrEqual(requested):
		return ReservationReleased
	case released.IsPositive():
		return ReservationPartiallyReleased
	default:
		return ReservationReserved
	}
}

// ReservationAllocation is the part of a reservation drawn from one ledger.
type ReservationAllocation struct {
	ReservationID int64 `db:"reservation_id" json:"-"`
	Seq           int   `db:"seq" json:"seq"`

	LedgerKey

	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	ReleasedQty types.Quantity `db:"released_qty" json:"releasedQty"`
}

// Outstanding is what the allocation still holds on its ledger.
func (a *ReservationAllocation) Outstanding() types.Quantity {
	return a.Quantity.Sub(a.ReleasedQty)
}
