// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Business outcomes the caller is expected to branch on (insufficient stock,
// over-release) are typed AppErrors, never panics.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Consistency errors (500). Indicate a bug upstream; never clamped.
	CodeLedgerInconsistency = "LEDGER_INCONSISTENCY"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule               = "BUSINESS_RULE_VIOLATION"
	CodeInsufficientStock          = "INSUFFICIENT_STOCK"
	CodeInsufficientAvailableStock = "INSUFFICIENT_AVAILABLE_STOCK"
	CodeOverRelease                = "OVER_RELEASE"

	// Not found (404)
	CodeNotFound            = "NOT_FOUND"
	CodeEntryNotFound       = "ENTRY_NOT_FOUND"
	CodeReservationNotFound = "RESERVATION_NOT_FOUND"

	// Conflict (409)
	CodeConflict               = "CONFLICT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewEntryNotFound is returned when a transaction entry to reverse does not exist.
func NewEntryNotFound(entryID int64) *AppError {
	return &AppError{
		Code:       CodeEntryNotFound,
		Message:    "Transaction entry not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entry_id": entryID},
	}
}

// NewReservationNotFound is returned for unknown reservation IDs.
func NewReservationNotFound(reservationID int64) *AppError {
	return &AppError{
		Code:       CodeReservationNotFound,
		Message:    "Reservation not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"reservation_id": reservationID},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInsufficientStock creates a stock shortage error.
// Quantities are passed as decimal strings to keep full precision in the response.
func NewInsufficientStock(productID string, requested, available string) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewInsufficientAvailableStock is returned when a reservation cannot be covered
// by unreserved stock.
func NewInsufficientAvailableStock(productID string, requested, available string) *AppError {
	return &AppError{
		Code:       CodeInsufficientAvailableStock,
		Message:    "Insufficient available stock to reserve",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewOverRelease is returned when a release exceeds what is still reserved.
func NewOverRelease(reservationID int64, requested, remaining string) *AppError {
	return &AppError{
		Code:       CodeOverRelease,
		Message:    "Release quantity exceeds remaining reservation",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"reservation_id": reservationID,
			"requested":      requested,
			"remaining":      remaining,
		},
	}
}

// NewLedgerInconsistency reports a mutation that would break a ledger invariant
// where the caller could not have prevented it (e.g. a reversal driving stock negative).
func NewLedgerInconsistency(message string) *AppError {
	return &AppError{
		Code:       CodeLedgerInconsistency,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the AppError code of err, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is any of the not-found codes.
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus == http.StatusNotFound
	}
	return false
}

// IsInsufficientStock checks if error is CodeInsufficientStock
func IsInsufficientStock(err error) bool {
	return HasCode(err, CodeInsufficientStock)
}

// IsInsufficientAvailableStock checks if error is CodeInsufficientAvailableStock
func IsInsufficientAvailableStock(err error) bool {
	return HasCode(err, CodeInsufficientAvailableStock)
}

// IsOverRelease checks if error is CodeOverRelease
func IsOverRelease(err error) bool {
	return HasCode(err, CodeOverRelease)
}

// IsLedgerInconsistency checks if error is CodeLedgerInconsistency
func IsLedgerInconsistency(err error) bool {
	return HasCode(err, CodeLedgerInconsistency)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}
