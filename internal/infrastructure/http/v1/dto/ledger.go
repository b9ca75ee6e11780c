package dto

import (
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/ledger"
)

// ApplyMovementRequest is the body of POST /ledger/movements.
// Quantities and costs are decimal strings (numbers are accepted too).
type ApplyMovementRequest struct {
	LedgerKeyRequest

	Quantity      types.Quantity     `json:"quantity"`
	UnitCost      *types.Money       `json:"unitCost"`
	Source        DocumentRefRequest `json:"source"`
	OperationKind string             `json:"operationKind"`
	BatchNumber   string             `json:"batchNumber"`
	ExpiryDate    *time.Time         `json:"expiryDate"`
}

// ToDomain converts to ledger.MovementRequest.
func (r ApplyMovementRequest) ToDomain() (ledger.MovementRequest, error) {
	key, err := r.ToKey()
	if err != nil {
		return ledger.MovementRequest{}, err
	}
	return ledger.MovementRequest{
		Key:       key,
		SignedQty: r.Quantity,
		UnitCost:  r.UnitCost,
		Source:    r.Source.ToDomain(),
		Kind:      entity.OperationKind(r.OperationKind),
		Batch:     batchInfo(r.BatchNumber, r.ExpiryDate),
	}, nil
}

func batchInfo(number string, expiry *time.Time) *entity.BatchInfo {
	if number == "" && expiry == nil {
		return nil
	}
	return &entity.BatchInfo{Number: number, ExpiryDate: expiry}
}

// ReverseMovementRequest is the body of POST /ledger/entries/:id/reverse.
type ReverseMovementRequest struct {
	Source DocumentRefRequest `json:"source"`
}

// TransferRequest is the body of POST /ledger/transfers.
type TransferRequest struct {
	From     LedgerKeyRequest   `json:"from"`
	To       LedgerKeyRequest   `json:"to"`
	Quantity types.Quantity     `json:"quantity"`
	Source   DocumentRefRequest `json:"source"`
}

// ToDomain converts to ledger.TransferRequest.
func (r TransferRequest) ToDomain() (ledger.TransferRequest, error) {
	from, err := r.From.ToKey()
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	to, err := r.To.ToKey()
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	return ledger.TransferRequest{From: from, To: to, Qty: r.Quantity, Source: r.Source.ToDomain()}, nil
}

// TransferResponse holds the paired entries of a transfer.
type TransferResponse struct {
	Out *entity.TransactionEntry `json:"out"`
	In  *entity.TransactionEntry `json:"in"`
}

// InFlightRequest is the body of POST /ledger/in-flight.
type InFlightRequest struct {
	LedgerKeyRequest

	Bucket      string             `json:"bucket"`
	Quantity    types.Quantity     `json:"quantity"`
	UnitCost    *types.Money       `json:"unitCost"`
	Source      DocumentRefRequest `json:"source"`
	BatchNumber string             `json:"batchNumber"`
	ExpiryDate  *time.Time         `json:"expiryDate"`
}

// ToDomain converts to ledger.InFlightRequest.
func (r InFlightRequest) ToDomain() (ledger.InFlightRequest, error) {
	key, err := r.ToKey()
	if err != nil {
		return ledger.InFlightRequest{}, err
	}
	return ledger.InFlightRequest{
		Key:       key,
		Bucket:    entity.QuantityBucket(r.Bucket),
		SignedQty: r.Quantity,
		UnitCost:  r.UnitCost,
		Source:    r.Source.ToDomain(),
		Batch:     batchInfo(r.BatchNumber, r.ExpiryDate),
	}, nil
}

// ThresholdsRequest is the body of PUT /ledger/thresholds.
// A null level clears it.
type ThresholdsRequest struct {
	LedgerKeyRequest

	MinStockLevel *types.Quantity `json:"minStockLevel"`
	MaxStockLevel *types.Quantity `json:"maxStockLevel"`
}

// ToDomain converts to ledger.ThresholdsRequest.
func (r ThresholdsRequest) ToDomain() (ledger.ThresholdsRequest, error) {
	key, err := r.ToKey()
	if err != nil {
		return ledger.ThresholdsRequest{}, err
	}
	return ledger.ThresholdsRequest{Key: key, Min: r.MinStockLevel, Max: r.MaxStockLevel}, nil
}

// LedgerResponse is a location ledger with its derived available quantity.
type LedgerResponse struct {
	entity.LocationLedger

	AvailableQty types.Quantity `json:"availableQty"`
	BelowMinimum bool           `json:"belowMinimum"`
}

// FromLedger converts entity to response DTO.
func FromLedger(l entity.LocationLedger) LedgerResponse {
	return LedgerResponse{
		LocationLedger: l,
		AvailableQty:   l.AvailableQty(),
		BelowMinimum:   l.BelowMinimum(),
	}
}

// FromLedgers converts a list of ledgers.
func FromLedgers(ls []entity.LocationLedger) []LedgerResponse {
	out := make([]LedgerResponse, len(ls))
	for i, l := range ls {
		out[i] = FromLedger(l)
	}
	return out
}

// EntryFilterRequest holds GET /ledger/entries query parameters.
type EntryFilterRequest struct {
	ProductID          string     `form:"productId"`
	WarehouseID        string     `form:"warehouseId"`
	LocationID         string     `form:"locationId"`
	BatchID            string     `form:"batchId"`
	SourceDocumentType string     `form:"sourceDocumentType"`
	SourceDocumentID   string     `form:"sourceDocumentId"`
	FromDate           *time.Time `form:"fromDate" time_format:"2006-01-02T15:04:05Z07:00"`
	ToDate             *time.Time `form:"toDate" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit              int        `form:"limit"`
	Offset             int        `form:"offset"`
}

// ToDomain converts to ledger.EntryFilter.
func (r EntryFilterRequest) ToDomain() (ledger.EntryFilter, error) {
	f := ledger.EntryFilter{
		SourceDocumentID: r.SourceDocumentID,
		FromDate:         r.FromDate,
		ToDate:           r.ToDate,
		Limit:            r.Limit,
		Offset:           r.Offset,
	}
	var err error
	if f.ProductID, err = ParseOptionalIDPtr("productId", r.ProductID); err != nil {
		return f, err
	}
	if f.WarehouseID, err = ParseOptionalIDPtr("warehouseId", r.WarehouseID); err != nil {
		return f, err
	}
	if f.LocationID, err = ParseOptionalIDPtr("locationId", r.LocationID); err != nil {
		return f, err
	}
	if f.BatchID, err = ParseOptionalIDPtr("batchId", r.BatchID); err != nil {
		return f, err
	}
	if r.SourceDocumentType != "" {
		t := entity.SourceDocumentType(r.SourceDocumentType)
		f.SourceDocumentType = &t
	}
	return f, nil
}
