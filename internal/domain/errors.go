package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrKind classifies an error for propagation policy: validation,
// authorization and rate-limit errors are local and user-visible,
// persistence and delivery failures are retried before surfacing.
type ErrKind string

const (
	KindValidation      ErrKind = "validation"
	KindAuthorization   ErrKind = "authorization"
	KindRateLimit       ErrKind = "rate_limit"
	KindConflict        ErrKind = "conflict"
	KindNotFound        ErrKind = "not_found"
	KindPersistence     ErrKind = "persistence"
	KindDeliveryTimeout ErrKind = "delivery_timeout"
	KindInternal        ErrKind = "internal"
)

// Error is the service error type carried across component boundaries.
type Error struct {
	Kind          ErrKind
	Code          string
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewValidationError creates a validation error. Never retried.
func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NewAuthorizationError creates an authorization error. Never retried.
func NewAuthorizationError(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

// NewRateLimitError creates a rate-limit error carrying a retry-after hint.
func NewRateLimitError(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// NewConflictError creates a concurrency-conflict error.
func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Code: "VERSION_CONFLICT", Message: message}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewPersistenceError wraps a storage failure with a correlation id so the
// caller can quote it to support.
func NewPersistenceError(cause error) *Error {
	return &Error{
		Kind:          KindPersistence,
		Code:          "PERSISTENCE_FAILURE",
		Message:       "failed to persist message",
		CorrelationID: uuid.New().String(),
		cause:         cause,
	}
}

// NewInternalError wraps an unexpected failure with a correlation id.
func NewInternalError(cause error) *Error {
	return &Error{
		Kind:          KindInternal,
		Code:          "INTERNAL_ERROR",
		Message:       "internal error",
		CorrelationID: uuid.New().String(),
		cause:         cause,
	}
}

// KindOf extracts the ErrKind from err, or KindInternal for foreign errors.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts a *Error from err if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
