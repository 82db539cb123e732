// Package engerr defines the execution engine's stable error taxonomy,
// mirroring internal/gateway/gwerr's shape for the engine's distinct
// set of failure modes (spec.md §7).
package engerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable error code string.
type Code string

const (
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeInvalidRequest Code = "invalid_request"
	CodeRateLimited    Code = "rate_limited"
	CodeQueueFull      Code = "queue_full"
	CodeNotFound       Code = "not_found"
	CodeInternal       Code = "internal_error"
)

var statusByCode = map[Code]int{
	CodeUnauthorized:   http.StatusUnauthorized,
	CodeForbidden:      http.StatusForbidden,
	CodeInvalidRequest: http.StatusBadRequest,
	CodeRateLimited:    http.StatusTooManyRequests,
	CodeQueueFull:      http.StatusServiceUnavailable,
	CodeNotFound:       http.StatusNotFound,
	CodeInternal:       http.StatusInternalServerError,
}

// Error is the engine's error type.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is compares by Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Status returns the HTTP status for this error's Code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error wrapping a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Status returns the HTTP status for any error.
func Status(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
