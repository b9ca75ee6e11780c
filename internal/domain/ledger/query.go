package ledger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 1000
)

// GetAggregate rolls up every ledger of a product. It is recomputed on each
// call; an unknown product yields zero totals and a nil cost.
func (s *Service) GetAggregate(ctx context.Context, productID id.ID) (*entity.StockAggregate, error) {
	ctx, span := tracer.Start(ctx, "ledger.GetAggregate", trace.WithAttributes(attribute.String("product.id", productID.String())))
	defer span.End()

	// No ledger can carry a nil product, so there is nothing to read.
	if id.IsNil(productID) {
		return Aggregate(productID, nil), nil
	}

	rows, err := s.ledgers.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	return Aggregate(productID, rows), nil
}

// Aggregate computes the StockAggregate of productID over rows.
// The weighted average only counts rows with a known cost.
func Aggregate(productID id.ID, rows []entity.LocationLedger) *entity.StockAggregate {
	agg := &entity.StockAggregate{
		ProductID:         productID,
		TotalCurrent:      types.Zero(),
		TotalReserved:     types.Zero(),
		TotalAvailable:    types.Zero(),
		TotalInTransit:    types.Zero(),
		TotalInProduction: types.Zero(),
	}

	costedQty := types.Zero()
	costedValue := types.Zero()

	for i := range rows {
		r := &rows[i]
		agg.TotalCurrent = agg.TotalCurrent.Add(r.CurrentQty)
		agg.TotalReserved = agg.TotalReserved.Add(r.ReservedQty)
		agg.TotalInTransit = agg.TotalInTransit.Add(r.InTransitQty)
		agg.TotalInProduction = agg.TotalInProduction.Add(r.InProductionQty)
		agg.Locations++

		if r.AverageCost != nil {
			costedQty = costedQty.Add(r.CurrentQty)
			costedValue = costedValue.Add(r.CurrentQty.Mul(*r.AverageCost))
		}
		if r.LastTransactionAt != nil && (agg.LastTransactionAt == nil || r.LastTransactionAt.After(*agg.LastTransactionAt)) {
			t := *r.LastTransactionAt
			agg.LastTransactionAt = &t
		}
	}

	agg.TotalAvailable = agg.TotalCurrent.Sub(agg.TotalReserved)
	if !costedQty.IsZero() {
		avg := costedValue.DivRound(costedQty, types.CostScale)
		agg.WeightedAverageCost = &avg
	}
	return agg
}

// GetLedger returns one ledger row.
func (s *Service) GetLedger(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	if err := key.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	return s.ledgers.Get(ctx, key)
}

// ListLedgers returns every ledger row of a product.
func (s *Service) ListLedgers(ctx context.Context, productID id.ID) ([]entity.LocationLedger, error) {
	// No ledger can carry a nil product, so there is nothing to read.
	if id.IsNil(productID) {
		return Aggregate(productID, nil), nil
	}
	return s.ledgers.ListByProduct(ctx, productID)
}

// ListBelowMinimum returns ledgers whose current quantity is under their minimum level.
func (s *Service) ListBelowMinimum(ctx context.Context, warehouseID *id.ID) ([]entity.LocationLedger, error) {
	return s.ledgers.ListBelowMinimum(ctx, warehouseID)
}

// ListEntries returns transaction history ordered by occurredAt, then ID.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]entity.TransactionEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultEntryLimit
	}
	if filter.Limit > maxEntryLimit {
		filter.Limit = maxEntryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.SourceDocumentType != nil && !filter.SourceDocumentType.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown source document type %q", *filter.SourceDocumentType))
	}
	return s.entries.List(ctx, filter)
}
