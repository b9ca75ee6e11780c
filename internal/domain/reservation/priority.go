package reservation

import (
	"slices"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// SortByPriority orders candidate ledgers for drawing: nearest expiry first,
// ledgers without expiry last, then lowest location ID, warehouse ID and batch ID.
// The order is total, so repeated calls draw identically.
func SortByPriority(ledgers []*entity.LocationLedger) {
	slices.SortStableFunc(ledgers, comparePriority)
}

func comparePriority(a, b *entity.LocationLedger) int {
	switch {
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	if c := id.Compare(a.LocationID, b.LocationID); c != 0 {
		return c
	}
	if c := id.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
		return c
	}
	return id.Compare(a.BatchID, b.BatchID)
}
