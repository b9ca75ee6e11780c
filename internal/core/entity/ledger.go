// Package entity provides core domain entities of the stock ledger.
package entity

import (
	"fmt"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// LedgerKey identifies one location ledger row.
// LocationID and BatchID are id.Nil when the stock is not tracked at that granularity.
type LedgerKey struct {
	ProductID   id.ID `db:"product_id" json:"productId"`
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	LocationID  id.ID `db:"location_id" json:"locationId"`
	BatchID     id.ID `db:"batch_id" json:"batchId"`
}

// Validate checks the mandatory dimensions.
func (k LedgerKey) Validate() error {
	if id.IsNil(k.ProductID) {
		return fmt.Errorf("product_id is required")
	}
	if id.IsNil(k.WarehouseID) {
		return fmt.Errorf("warehouse_id is required")
	}
	return nil
}

// Compare gives the total order used for lock acquisition:
// product, warehouse, location, batch.
func (k LedgerKey) Compare(o LedgerKey) int {
	if c := id.Compare(k.ProductID, o.ProductID); c != 0 {
		return c
	}
	if c := id.Compare(k.WarehouseID, o.WarehouseID); c != 0 {
		return c
	}
	if c := id.Compare(k.LocationID, o.LocationID); c != 0 {
		return c
	}
	return id.Compare(k.BatchID, o.BatchID)
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.ProductID, k.WarehouseID, id.OptionalString(k.LocationID), id.OptionalString(k.BatchID))
}

// BatchInfo carries batch attributes recorded when a batch ledger is first created.
type BatchInfo struct {
	Number     string     `json:"batchNumber,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

// LocationLedger is the quantity/cost record for one product in one location.
// Rows are created lazily and never deleted, only zeroed.
type LocationLedger struct {
	LedgerKey

	CurrentQty      types.Quantity `db:"current_qty" json:"currentQty"`
	ReservedQty     types.Quantity `db:"reserved_qty" json:"reservedQty"`
	InTransitQty    types.Quantity `db:"in_transit_qty" json:"inTransitQty"`
	InProductionQty types.Quantity `db:"in_production_qty" json:"inProductionQty"`

	// AverageCost is nil while the row has no cost basis.
	AverageCost *types.Money `db:"average_cost" json:"averageCost"`

	MinStockLevel *types.Quantity `db:"min_stock_level" json:"minStockLevel,omitempty"`
	MaxStockLevel *types.Quantity `db:"max_stock_level" json:"maxStockLevel,omitempty"`

	BatchNumber *string    `db:"batch_number" json:"batchNumber,omitempty"`
	ExpiryDate  *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`

	LastTransactionAt *time.Time `db:"last_transaction_at" json:"lastTransactionAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`

	// Version increments on every write; repositories use it as an optimistic guard.
	Version int64 `db:"version" json:"version"`
}

// NewLocationLedger creates an empty ledger for key.
func NewLocationLedger(key LedgerKey, batch *BatchInfo, now time.Time) *LocationLedger {
	l := &LocationLedger{
		LedgerKey:       key,
		CurrentQty:      types.Zero(),
		ReservedQty:     types.Zero(),
		InTransitQty:    types.Zero(),
		InProductionQty: types.Zero(),
		CreatedAt:       now,
	}
	if batch != nil {
		if batch.Number != "" {
			n := batch.Number
			l.BatchNumber = &n
		}
		l.ExpiryDate = batch.ExpiryDate
	}
	return l
}

// AvailableQty is the quantity free to be newly reserved or shipped.
func (l *LocationLedger) AvailableQty() types.Quantity {
	return l.CurrentQty.Sub(l.ReservedQty)
}

// CheckInvariants verifies the row-level invariants.
func (l *LocationLedger) CheckInvariants() error {
	switch {
	case l.CurrentQty.IsNegative():
		return fmt.Errorf("current quantity %s is negative", l.CurrentQty)
	case l.ReservedQty.IsNegative():
		return fmt.Errorf("reserved quantity %s is negative", l.ReservedQty)
	case l.ReservedQty.GreaterThan(l.CurrentQty):
		return fmt.Errorf("reserved quantity %s exceeds current quantity %s", l.ReservedQty, l.CurrentQty)
	case l.InTransitQty.IsNegative():
		return fmt.Errorf("in-transit quantity %s is negative", l.InTransitQty)
	case l.InProductionQty.IsNegative():
		return fmt.Errorf("in-production quantity %s is negative", l.InProductionQty)
	}
	return nil
}

// BelowMinimum reports whether current stock is under the configured minimum.
func (l *LocationLedger) BelowMinimum() bool {
	return l.MinStockLevel != nil && l.CurrentQty.LessThan(*l.MinStockLevel)
}

// Bucket returns the counter addressed by b.
func (l *LocationLedger) Bucket(b QuantityBucket) types.Quantity {
	switch b {
	case BucketInTransit:
		return l.InTransitQty
	case BucketInProduction:
		return l.InProductionQty
	default:
		return l.CurrentQty
	}
}

// SetBucket overwrites the counter addressed by b.
func (l *LocationLedger) SetBucket(b QuantityBucket, v types.Quantity) {
	switch b {
	case BucketInTransit:
		l.InTransitQty = v
	case BucketInProduction:
		l.InProductionQty = v
	default:
		l.CurrentQty = v
	}
}

// Touch advances LastTransactionAt so that entries of one ledger never go back in time.
// Returns the timestamp to stamp on the entry.
func (l *LocationLedger) Touch(now time.Time) time.Time {
	if l.LastTransactionAt != nil && now.Before(*l.LastTransactionAt) {
		now = *l.LastTransactionAt
	}
	l.LastTransactionAt = &now
	return now
}

// StockAggregate is the per-product roll-up over all location ledgers.
// It is never stored.
type StockAggregate struct {
	ProductID           id.ID          `json:"productId"`
	TotalCurrent        types.Quantity `json:"totalCurrent"`
	TotalReserved       types.Quantity `json:"totalReserved"`
	TotalAvailable      types.Quantity `json:"totalAvailable"`
	TotalInTransit      types.Quantity `json:"totalInTransit"`
	TotalInProduction   types.Quantity `json:"totalInProduction"`
	WeightedAverageCost *types.Money   `json:"weightedAverageCost"`
	LastTransactionAt   *time.Time     `json:"lastTransactionAt"`
	Locations           int            `json:"locations"`
}
