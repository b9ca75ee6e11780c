package dto

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/reservation"
)

// ReserveRequest is the body of POST /reservations.
// With Ledger set the reservation targets one ledger; otherwise it may span
// every eligible ledger of the product, optionally within WarehouseID.
type ReserveRequest struct {
	ProductID   string            `json:"productId" binding:"required"`
	Demand      DemandRequest     `json:"demand"`
	Quantity    types.Quantity    `json:"quantity"`
	Ledger      *LedgerKeyRequest `json:"ledger"`
	WarehouseID string            `json:"warehouseId"`
}

// DemandRequest names the document demanding stock.
type DemandRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ToDomain converts to reservation.ReserveRequest.
func (r ReserveRequest) ToDomain() (reservation.ReserveRequest, error) {
	productID, err := parseID("productId", r.ProductID)
	if err != nil {
		return reservation.ReserveRequest{}, err
	}
	out := reservation.ReserveRequest{
		ProductID: productID,
		Demand:    entity.DemandRef{Type: r.Demand.Type, ID: r.Demand.ID},
		Qty:       r.Quantity,
	}
	if r.Ledger != nil {
		key, err := r.Ledger.ToKey()
		if err != nil {
			return out, err
		}
		out.Key = &key
	}
	if out.WarehouseID, err = ParseOptionalIDPtr("warehouseId", r.WarehouseID); err != nil {
		return out, err
	}
	return out, nil
}

// ReleaseRequest is the body of POST /reservations/:id/release.
type ReleaseRequest struct {
	Quantity types.Quantity `json:"quantity"`
}

// FulfillRequest is the body of POST /reservations/:id/fulfill.
// Source defaults to a shipment document.
type FulfillRequest struct {
	Quantity types.Quantity     `json:"quantity"`
	Source   DocumentRefRequest `json:"source"`
}

// ReservationResponse is a reservation with its derived remaining quantity.
type ReservationResponse struct {
	*entity.Reservation

	RemainingQty types.Quantity `json:"remainingQty"`
}

// FromReservation converts entity to response DTO.
func FromReservation(r *entity.Reservation) ReservationResponse {
	return ReservationResponse{Reservation: r, RemainingQty: r.RemainingQty()}
}

// FulfillResponse holds the reservation after fulfilment and the shipment entries.
type FulfillResponse struct {
	Reservation ReservationResponse       `json:"reservation"`
	Entries     []entity.TransactionEntry `json:"entries"`
}

// FromFulfillResult converts the domain result.
func FromFulfillResult(r *reservation.FulfillResult) FulfillResponse {
	entries := make([]entity.TransactionEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, *e)
	}
	return FulfillResponse{Reservation: FromReservation(r.Reservation), Entries: entries}
}
