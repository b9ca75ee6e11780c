package ledger

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// Recalculate returns the weighted-average cost of l after receiving
// incomingQty units at incomingUnitCost:
//
//	(currentQty*(averageCost ?? 0) + incomingQty*incomingUnitCost) / (currentQty + incomingQty)
//
// It is only meant for increasing movements with a known cost; decreasing and
// costless movements keep the existing average. A zero resulting quantity
// yields nil (no basis).
func Recalculate(l *entity.LocationLedger, incomingQty types.Quantity, incomingUnitCost types.Money) *types.Money {
	total := l.CurrentQty.Add(incomingQty)
	if total.IsZero() {
		return nil
	}

	base := types.Zero()
	if l.AverageCost != nil {
		base = *l.AverageCost
	}

	value := l.CurrentQty.Mul(base).Add(incomingQty.Mul(incomingUnitCost))
	avg := value.DivRound(total, types.CostScale)
	return &avg
}
