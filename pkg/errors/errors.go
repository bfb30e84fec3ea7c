package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Policy rejections: recorded for audit, surfaced to the caller and
	// never retried automatically.
	ErrExpired       = New("EXPIRED", http.StatusGone, "token expired")
	ErrExhausted     = New("EXHAUSTED", http.StatusConflict, "token usage exhausted")
	ErrOutsideFence  = New("OUTSIDE_FENCE", http.StatusForbidden, "location outside allowed area")
	ErrLowConfidence = New("LOW_CONFIDENCE", http.StatusForbidden, "biometric confidence below threshold")

	// ErrTransient marks infrastructure failures that are safe to retry
	// with bounded backoff.
	ErrTransient = New("TRANSIENT", http.StatusServiceUnavailable, "transient infrastructure failure")

	// ErrInvariant marks detected invariant violations. Fatal for the
	// operation; history is never rewritten to mask it.
	ErrInvariant = New("INVARIANT_VIOLATION", http.StatusInternalServerError, "invariant violation")

	// ErrCacheMiss is an internal sentinel for cache lookups.
	ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsRetryable reports whether the error is a transient infrastructure
// failure that callers may retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrTransient.Code
	}
	return false
}

// IsPolicyRejection reports whether the error is a policy rejection that
// should be recorded as a rejected attempt rather than retried.
func IsPolicyRejection(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrExpired.Code, ErrExhausted.Code, ErrOutsideFence.Code, ErrLowConfidence.Code, ErrUnauthorized.Code, ErrForbidden.Code:
		return true
	default:
		return false
	}
}
