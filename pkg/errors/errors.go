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
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	// ErrTransfer marks a network failure against the content store. The
	// operation leaves resumable checkpoint state and is safe to retry.
	ErrTransfer = New("TRANSFER_FAILED", http.StatusBadGateway, "content store transfer failed")
	// ErrGateway marks the store reporting incomplete content despite a
	// local upload-complete flag; distinct from ErrTransfer so callers never
	// serve partial bytes.
	ErrGateway = New("BAD_GATEWAY", http.StatusBadGateway, "content store reported inconsistent state")
)

// ErrCacheMiss signals a cache lookup found nothing; callers fall back to
// the database. Not part of the HTTP taxonomy.
var ErrCacheMiss = errors.New("cache miss")

// IsRetryable reports whether the error class is expected to be retried by
// the caller or the task queue.
func IsRetryable(err error) bool {
	e := FromError(err)
	return e != nil && e.Code == ErrTransfer.Code
}

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
