// Package gwerr defines the gateway's stable error taxonomy: one kind
// per failure mode, each mapping to exactly one HTTP status and a
// stable code string in the response body, grounded in the teacher's
// internal/domain/errors.DomainError shape.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable error code string returned to clients.
type Code string

const (
	CodeUnauthorized        Code = "unauthorized"
	CodeRateLimited         Code = "rate_limited"
	CodeValidation          Code = "validation"
	CodePayloadTooLarge     Code = "payload_too_large"
	CodeRouteNotFound       Code = "route_not_found"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeUpstream            Code = "upstream_error"
	CodeInternal            Code = "internal_error"
)

var statusByCode = map[Code]int{
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeValidation:          http.StatusBadRequest,
	CodePayloadTooLarge:     http.StatusRequestEntityTooLarge,
	CodeRouteNotFound:       http.StatusNotFound,
	CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	CodeUpstream:            http.StatusBadGateway,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is the gateway's error type. It carries a stable Code, a
// human-readable Message, and an optional RetryAfterSecs used only by
// CodeRateLimited.
type Error struct {
	Code            Code
	Message         string
	RetryAfterSecs  uint64
	Err             error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.Err }

// Is compares by Code, mirroring the teacher's DomainError.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Status returns the HTTP status code for this error's Code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// RateLimited creates a CodeRateLimited error carrying the retry-after
// hint the rate-limit middleware attaches to the 429 response.
func RateLimited(retryAfterSecs uint64) *Error {
	return &Error{
		Code:           CodeRateLimited,
		Message:        "Rate limit exceeded",
		RetryAfterSecs: retryAfterSecs,
	}
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Status returns the HTTP status for any error: the Error's own Status
// if it is one, otherwise 500.
func Status(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
