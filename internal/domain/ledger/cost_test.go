package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

func TestRecalculate(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		average  *types.Money
		incoming string
		cost     string
		want     *types.Money
	}{
		{
			name:     "empty ledger takes incoming cost",
			current:  "0",
			incoming: "10",
			cost:     "5",
			want:     types.MoneyPtr(types.MustMoney("5")),
		},
		{
			name:     "weighted average",
			current:  "10",
			average:  types.MoneyPtr(types.MustMoney("5")),
			incoming: "10",
			cost:     "7",
			want:     types.MoneyPtr(types.MustMoney("6")),
		},
		{
			name:     "missing basis counts as zero",
			current:  "10",
			incoming: "10",
			cost:     "4",
			want:     types.MoneyPtr(types.MustMoney("2")),
		},
		{
			name:     "rounded to cost scale",
			current:  "2",
			average:  types.MoneyPtr(types.MustMoney("0")),
			incoming: "1",
			cost:     "1",
			want:     types.MoneyPtr(types.MustMoney("0.333333")),
		},
		{
			name:     "zero resulting quantity clears basis",
			current:  "0",
			incoming: "0",
			cost:     "3",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := entity.NewLocationLedger(entity.LedgerKey{ProductID: id.New(), WarehouseID: id.New()}, nil, time.Now())
			l.CurrentQty = types.MustQuantity(tt.current)
			l.AverageCost = tt.average

			got := Recalculate(l, types.MustQuantity(tt.incoming), types.MustMoney(tt.cost))
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Truef(t, tt.want.Equal(*got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestAggregate(t *testing.T) {
	productID := id.New()
	warehouseID := id.New()
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	rows := []entity.LocationLedger{
		{
			LedgerKey:         entity.LedgerKey{ProductID: productID, WarehouseID: warehouseID, LocationID: id.New()},
			CurrentQty:        types.Qty(10),
			ReservedQty:       types.Qty(4),
			InTransitQty:      types.Qty(2),
			InProductionQty:   types.Zero(),
			AverageCost:       types.MoneyPtr(types.MustMoney("5")),
			LastTransactionAt: &early,
		},
		{
			LedgerKey:         entity.LedgerKey{ProductID: productID, WarehouseID: warehouseID, LocationID: id.New()},
			CurrentQty:        types.Qty(30),
			ReservedQty:       types.Zero(),
			InTransitQty:      types.Zero(),
			InProductionQty:   types.Qty(1),
			AverageCost:       types.MoneyPtr(types.MustMoney("9")),
			LastTransactionAt: &late,
		},
		{
			// Without a cost basis: counted in totals, not in the average.
			LedgerKey:       entity.LedgerKey{ProductID: productID, WarehouseID: warehouseID, LocationID: id.New()},
			CurrentQty:      types.Qty(5),
			ReservedQty:     types.Zero(),
			InTransitQty:    types.Zero(),
			InProductionQty: types.Zero(),
		},
	}

	agg := Aggregate(productID, rows)

	assert.Equal(t, productID, agg.ProductID)
	assert.Equal(t, "45", agg.TotalCurrent.String())
	assert.Equal(t, "4", agg.TotalReserved.String())
	assert.Equal(t, "41", agg.TotalAvailable.String())
	assert.Equal(t, "2", agg.TotalInTransit.String())
	assert.Equal(t, "1", agg.TotalInProduction.String())
	assert.Equal(t, 3, agg.Locations)
	require.NotNil(t, agg.WeightedAverageCost)
	assert.Equal(t, "8", agg.WeightedAverageCost.String()) // (10*5 + 30*9) / 40
	require.NotNil(t, agg.LastTransactionAt)
	assert.True(t, late.Equal(*agg.LastTransactionAt))
}

func TestAggregate_UnknownProduct(t *testing.T) {
	agg := Aggregate(id.New(), nil)

	assert.True(t, agg.TotalCurrent.IsZero())
	assert.True(t, agg.TotalAvailable.IsZero())
	assert.Nil(t, agg.WeightedAverageCost)
	assert.Nil(t, agg.LastTransactionAt)
	assert.Zero(t, agg.Locations)
}

func TestMovementRequest_Validate(t *testing.T) {
	key := entity.LedgerKey{ProductID: id.New(), WarehouseID: id.New()}
	source := entity.DocumentRef{Type: entity.DocGoodsReceipt, ID: "GR-1"}
	negative := types.MustMoney("-1")

	tests := []struct {
		name string
		req  MovementRequest
	}{
		{"zero quantity", MovementRequest{Key: key, SignedQty: types.Zero(), Source: source}},
		{"missing warehouse", MovementRequest{Key: entity.LedgerKey{ProductID: key.ProductID}, SignedQty: types.Qty(1), Source: source}},
		{"negative cost", MovementRequest{Key: key, SignedQty: types.Qty(1), UnitCost: &negative, Source: source}},
		{"unknown document", MovementRequest{Key: key, SignedQty: types.Qty(1), Source: entity.DocumentRef{Type: "invoice", ID: "1"}}},
		{"missing document id", MovementRequest{Key: key, SignedQty: types.Qty(1), Source: entity.DocumentRef{Type: entity.DocShipment}}},
		{"reversal kind", MovementRequest{Key: key, SignedQty: types.Qty(1), Source: source, Kind: entity.OperationDeleteReversal}},
		{"too many decimals", MovementRequest{Key: key, SignedQty: types.MustQuantity("0.00001"), Source: source}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.req.Validate())
		})
	}

	ok := MovementRequest{Key: key, SignedQty: types.MustQuantity("1.5"), Source: source}
	require.NoError(t, ok.Validate())
	assert.Equal(t, entity.OperationInitial, ok.Kind)
}
