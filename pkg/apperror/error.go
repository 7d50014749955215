// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All errors raised by the sequencing packages use AppError so hosts can branch
// on machine-readable codes instead of string matching.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes grouped by lifecycle stage
const (
	// Binding-time errors
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeNotInitialized = "NOT_INITIALIZED"
	CodeFieldConflict  = "FIELD_CONFLICT"

	// Allocation-time errors
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Persistence-time errors
	CodeImmutableField      = "IMMUTABLE_FIELD"
	CodeUniquenessViolation = "UNIQUENESS_VIOLATION"
	CodeValidation          = "VALIDATION_ERROR"

	// Infrastructure errors
	CodeNotFound = "NOT_FOUND"
	CodeDatabase = "DATABASE_ERROR"
	CodeInternal = "INTERNAL_ERROR"
)

// AppError is the standard error type for the library.
// It implements the error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field names, counter keys, etc.)
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

// --- Factory functions for common errors ---

// NewConfiguration creates an invalid-options error (400).
// Raised at binding time only; a bound sequence never reports it.
func NewConfiguration(message string) *AppError {
	return &AppError{
		Code:       CodeConfiguration,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotInitialized creates an error for use of the plugin before its
// counter store has been prepared (500)
func NewNotInitialized(message string) *AppError {
	return &AppError{
		Code:       CodeNotInitialized,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewFieldConflict creates an error for binding a sequence to an
// already-declared schema field (409)
func NewFieldConflict(field string) *AppError {
	return &AppError{
		Code:       CodeFieldConflict,
		Message:    fmt.Sprintf("field %q is already declared on the schema", field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"field": field},
	}
}

// NewStoreUnavailable creates a counter-store failure error (503).
// op names the failed store operation (prepare, allocate, peek, reset).
func NewStoreUnavailable(op string, err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    fmt.Sprintf("counter store %s failed", op),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"operation": op},
		Err:        err,
	}
}

// NewImmutableField creates an error for modifying an assigned sequence field (422)
func NewImmutableField(field string) *AppError {
	return &AppError{
		Code:       CodeImmutableField,
		Message:    fmt.Sprintf("field %q is assigned by the sequence and cannot be modified", field),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"field": field},
	}
}

// NewUniquenessViolation creates a duplicate-value error (409)
func NewUniquenessViolation(field string, value any) *AppError {
	return &AppError{
		Code:       CodeUniquenessViolation,
		Message:    fmt.Sprintf("a document with this %s already exists", field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"field": field, "value": value},
	}
}

// NewValidation creates a document validation error (400)
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

// NewDatabase creates a document persistence error (500)
func NewDatabase(err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInternal creates an internal error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
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

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsConfiguration checks if error is CodeConfiguration
func IsConfiguration(err error) bool { return HasCode(err, CodeConfiguration) }

// IsNotInitialized checks if error is CodeNotInitialized
func IsNotInitialized(err error) bool { return HasCode(err, CodeNotInitialized) }

// IsFieldConflict checks if error is CodeFieldConflict
func IsFieldConflict(err error) bool { return HasCode(err, CodeFieldConflict) }

// IsStoreUnavailable checks if error is CodeStoreUnavailable
func IsStoreUnavailable(err error) bool { return HasCode(err, CodeStoreUnavailable) }

// IsImmutableField checks if error is CodeImmutableField
func IsImmutableField(err error) bool { return HasCode(err, CodeImmutableField) }

// IsUniquenessViolation checks if error is CodeUniquenessViolation
func IsUniquenessViolation(err error) bool { return HasCode(err, CodeUniquenessViolation) }

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }
