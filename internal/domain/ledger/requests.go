package ledger

import (
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// MovementRequest asks for one signed on-hand quantity change.
type MovementRequest struct {
	Key       entity.LedgerKey
	SignedQty types.Quantity

	// UnitCost is optional. On increases it feeds the average-cost recalculation.
	UnitCost *types.Money

	Source entity.DocumentRef

	// Kind defaults to OperationInitial. Reversals go through ReverseMovement.
	Kind entity.OperationKind

	// Batch attributes are recorded when the ledger row is created.
	Batch *entity.BatchInfo

	// OccurredAt defaults to the service clock. It is never earlier than the
	// ledger's last transaction.
	OccurredAt time.Time
}

// Validate rejects malformed requests before anything is locked.
func (r *MovementRequest) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	if err := validateSignedQty(r.SignedQty); err != nil {
		return err
	}
	if err := validateUnitCost(r.UnitCost); err != nil {
		return err
	}
	if err := r.Source.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	if r.Kind == "" {
		r.Kind = entity.OperationInitial
	}
	if r.Kind != entity.OperationInitial && r.Kind != entity.OperationAdjust {
		return apperror.NewValidation(fmt.Sprintf("operation kind %q is not allowed here", r.Kind)).
			WithDetail("field", "operationKind")
	}
	return nil
}

// TransferRequest moves stock of one product between two ledgers.
type TransferRequest struct {
	From   entity.LedgerKey
	To     entity.LedgerKey
	Qty    types.Quantity
	Source entity.DocumentRef
}

// Validate rejects malformed transfers.
func (r *TransferRequest) Validate() error {
	if err := r.From.Validate(); err != nil {
		return apperror.NewValidation("from: " + err.Error())
	}
	if err := r.To.Validate(); err != nil {
		return apperror.NewValidation("to: " + err.Error())
	}
	if r.From.ProductID != r.To.ProductID {
		return apperror.NewValidation("transfer must keep the same product")
	}
	if r.From == r.To {
		return apperror.NewValidation("transfer source and destination are the same ledger")
	}
	if err := validatePositiveQty(r.Qty); err != nil {
		return err
	}
	if r.Source.Type == "" {
		r.Source.Type = entity.DocTransfer
	}
	if err := r.Source.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	return nil
}

// InFlightRequest moves the in-transit or in-production counter of a ledger.
type InFlightRequest struct {
	Key       entity.LedgerKey
	Bucket    entity.QuantityBucket
	SignedQty types.Quantity
	UnitCost  *types.Money
	Source    entity.DocumentRef
	Batch     *entity.BatchInfo
}

// Validate rejects malformed in-flight adjustments.
func (r *InFlightRequest) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	if !r.Bucket.IsInFlight() {
		return apperror.NewValidation(fmt.Sprintf("bucket %q is not an in-flight bucket", r.Bucket)).
			WithDetail("field", "bucket")
	}
	if err := validateSignedQty(r.SignedQty); err != nil {
		return err
	}
	if err := validateUnitCost(r.UnitCost); err != nil {
		return err
	}
	if err := r.Source.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	return nil
}

// ThresholdsRequest sets or clears the min/max stock levels of a ledger.
type ThresholdsRequest struct {
	Key entity.LedgerKey
	Min *types.Quantity
	Max *types.Quantity
}

// Validate checks that thresholds are non-negative and ordered.
func (r *ThresholdsRequest) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	if r.Min != nil && r.Min.IsNegative() {
		return apperror.NewValidation("min stock level must not be negative").WithDetail("field", "minStockLevel")
	}
	if r.Max != nil && r.Max.IsNegative() {
		return apperror.NewValidation("max stock level must not be negative").WithDetail("field", "maxStockLevel")
	}
	if r.Min != nil && r.Max != nil && r.Min.GreaterThan(*r.Max) {
		return apperror.NewValidation("min stock level exceeds max stock level")
	}
	return nil
}

func validateSignedQty(q types.Quantity) error {
	if q.IsZero() {
		return apperror.NewValidation("quantity must not be zero").WithDetail("field", "quantity")
	}
	return validateScale(q)
}

func validatePositiveQty(q types.Quantity) error {
	if !q.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	return validateScale(q)
}

func validateScale(q types.Quantity) error {
	if !q.Equal(q.Round(types.QuantityScale)) {
		return apperror.NewValidation(fmt.Sprintf("quantity has more than %d fractional digits", types.QuantityScale)).
			WithDetail("field", "quantity")
	}
	return nil
}

func validateUnitCost(c *types.Money) error {
	if c != nil && c.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative").WithDetail("field", "unitCost")
	}
	return nil
}
