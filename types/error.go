package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures across the engine.
type ErrorCode string

const (
	// ErrValidation marks a malformed inbound turn, rejected before any work.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrUpstreamUnavailable marks an unreachable or timed-out collaborator.
	// Tool-level upstream failures degrade to a failure tool result instead.
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	// ErrConcurrencyConflict marks a turn arriving while one is in flight
	// for the same conversation. Retryable.
	ErrConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	// ErrStateInconsistency marks internal state that contradicts itself,
	// e.g. a human-active conversation with no thread reference.
	ErrStateInconsistency ErrorCode = "STATE_INCONSISTENCY"
	// ErrInternal marks everything else.
	ErrInternal ErrorCode = "INTERNAL"
)

// Error is the structured error carried across package boundaries.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches a cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status to surface for this error.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks whether the caller may retry.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err is (or wraps) a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
