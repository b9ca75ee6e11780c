package ledger

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// MovementEvent is the payload of stock.movement_applied and stock.movement_reversed.
type MovementEvent struct {
	Entry       entity.TransactionEntry `json:"entry"`
	CurrentQty  types.Quantity          `json:"currentQty"`
	ReservedQty types.Quantity          `json:"reservedQty"`
	AverageCost *types.Money            `json:"averageCost"`
}

// ThresholdsChangedEvent is the payload of stock.thresholds_changed.
type ThresholdsChangedEvent struct {
	entity.LedgerKey
	MinStockLevel *types.Quantity `json:"minStockLevel"`
	MaxStockLevel *types.Quantity `json:"maxStockLevel"`
	BelowMinimum  bool            `json:"belowMinimum"`
}
