// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse creates a list response; nil slices render as [].
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// ErrorResponse is the body rendered for every failed request.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// LedgerKeyRequest addresses one location ledger.
// LocationID and BatchID may be empty.
type LedgerKeyRequest struct {
	ProductID   string `json:"productId" form:"productId" binding:"required"`
	WarehouseID string `json:"warehouseId" form:"warehouseId" binding:"required"`
	LocationID  string `json:"locationId" form:"locationId"`
	BatchID     string `json:"batchId" form:"batchId"`
}

// ToKey parses the request into a ledger key.
func (r LedgerKeyRequest) ToKey() (entity.LedgerKey, error) {
	var (
		key entity.LedgerKey
		err error
	)
	if key.ProductID, err = parseID("productId", r.ProductID); err != nil {
		return key, err
	}
	if key.WarehouseID, err = parseID("warehouseId", r.WarehouseID); err != nil {
		return key, err
	}
	if key.LocationID, err = parseOptionalID("locationId", r.LocationID); err != nil {
		return key, err
	}
	if key.BatchID, err = parseOptionalID("batchId", r.BatchID); err != nil {
		return key, err
	}
	return key, nil
}

// DocumentRefRequest points at the business document behind a request.
type DocumentRefRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ToDomain converts to entity.DocumentRef.
func (r DocumentRefRequest) ToDomain() entity.DocumentRef {
	return entity.DocumentRef{Type: entity.SourceDocumentType(r.Type), ID: r.ID}
}

func parseID(field, s string) (id.ID, error) {
	v, err := id.Parse(s)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid " + field + " format").WithDetail("field", field)
	}
	return v, nil
}

func parseOptionalID(field, s string) (id.ID, error) {
	v, err := id.ParseOptional(s)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid " + field + " format").WithDetail("field", field)
	}
	return v, nil
}

// ParseID parses a required UUID query or path value.
func ParseID(field, s string) (id.ID, error) {
	return parseID(field, s)
}

// ParseOptionalIDPtr parses an optional UUID filter; empty yields nil.
func ParseOptionalIDPtr(field, s string) (*id.ID, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseID(field, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
