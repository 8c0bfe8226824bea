// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every caller-visible failure of the ledger, reserve, custody and BOQ services is an AppError.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Ledger violations (422)
	CodeInsufficientAvailability = "INSUFFICIENT_AVAILABILITY"
	CodeOverRelease              = "OVER_RELEASE"

	// Workflow violations (409)
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"
)

// AppError is the standard error type for the platform.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, statuses, ids)
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

// NewInsufficientAvailability is returned when a mutation would drive a pool,
// its availability or the total below zero.
func NewInsufficientAvailability(pool string, requested, available fmt.Stringer) *AppError {
	return &AppError{
		Code:       CodeInsufficientAvailability,
		Message:    fmt.Sprintf("insufficient %s availability", pool),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"pool":      pool,
			"requested": requested.String(),
			"available": available.String(),
		},
	}
}

// NewOverRelease is returned when a release exceeds the allocated amount.
func NewOverRelease(pool string, requested, allocated fmt.Stringer) *AppError {
	return &AppError{
		Code:       CodeOverRelease,
		Message:    fmt.Sprintf("release exceeds %s allocation", pool),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"pool":      pool,
			"requested": requested.String(),
			"allocated": allocated.String(),
		},
	}
}

// NewInvalidStateTransition is returned when an operation is not allowed in the current status.
func NewInvalidStateTransition(entity, operation, status string) *AppError {
	return &AppError{
		Code:       CodeInvalidStateTransition,
		Message:    fmt.Sprintf("cannot %s %s in status %s", operation, entity, status),
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"entity":    entity,
			"operation": operation,
			"status":    status,
		},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another user. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewIdempotencyConflict is returned while a request with the same key is still running,
// or when the key was used for a different request.
func NewIdempotencyConflict(key, reason string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyConflict,
		Message:    reason,
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
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

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasCode(err error, codes ...string) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if appErr.Code == c {
			return true
		}
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsInsufficientAvailability checks if error is CodeInsufficientAvailability
func IsInsufficientAvailability(err error) bool { return hasCode(err, CodeInsufficientAvailability) }

// IsOverRelease checks if error is CodeOverRelease
func IsOverRelease(err error) bool { return hasCode(err, CodeOverRelease) }

// IsInvalidStateTransition checks if error is CodeInvalidStateTransition
func IsInvalidStateTransition(err error) bool { return hasCode(err, CodeInvalidStateTransition) }

// IsUnauthorized reports both missing authentication and missing authority.
func IsUnauthorized(err error) bool { return hasCode(err, CodeUnauthorized, CodeForbidden) }

// IsValidation checks if error is CodeValidation
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool { return hasCode(err, CodeConcurrentModification) }
