package entity

// Aggregate types used on outbox events.
const (
	AggregateLocationLedger = "LocationLedger"
	AggregateReservation    = "Reservation"
)

// Event types published by the ledger.
const (
	EventMovementApplied     = "stock.movement_applied"
	EventMovementReversed    = "stock.movement_reversed"
	EventThresholdsChanged   = "stock.thresholds_changed"
	EventReservationCreated  = "reservation.created"
	EventReservationReleased = "reservation.released"
	EventReservationCanceled = "reservation.cancelled"
)

// DomainEvent represents an event to be published via the transactional outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}
