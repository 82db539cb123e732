// Package ratelimit implements the rate-limiting subsystem: a single
// check(key, policy, request_id) -> Decision contract backed by
// pluggable in-process and distributed backends, each supporting two
// algorithmic policies (spec.md §4.5).
package ratelimit

import (
	"context"
	"errors"
)

// Decision is the result of a single rate-limit check.
type Decision struct {
	Allowed        bool
	Remaining      uint64
	RetryAfterSecs uint64
}

// Kind selects which algorithm a Policy describes.
type Kind int

const (
	// TokenBucket policies refill continuously at RefillPerSec up to Capacity.
	TokenBucket Kind = iota
	// SlidingWindow policies allow at most MaxRequests within WindowSeconds.
	SlidingWindow
)

// Policy is a tagged variant selecting one rate-limit algorithm.
type Policy struct {
	Kind Kind

	// Capacity and RefillPerSec apply when Kind == TokenBucket.
	Capacity     float64
	RefillPerSec float64

	// WindowSeconds and MaxRequests apply when Kind == SlidingWindow.
	WindowSeconds int64
	MaxRequests   int64
}

// NewTokenBucket builds a TokenBucket policy.
func NewTokenBucket(capacity, refillPerSec float64) Policy {
	return Policy{Kind: TokenBucket, Capacity: capacity, RefillPerSec: refillPerSec}
}

// NewSlidingWindow builds a SlidingWindow policy.
func NewSlidingWindow(windowSeconds, maxRequests int64) Policy {
	return Policy{Kind: SlidingWindow, WindowSeconds: windowSeconds, MaxRequests: maxRequests}
}

// ErrInvalidPolicy is returned when a policy's configuration cannot
// produce a meaningful decision (e.g. refill <= 0 for TokenBucket).
var ErrInvalidPolicy = errors.New("ratelimit: invalid policy configuration")

// Backend is the single contract every rate-limit store implements.
// A single call may suspend at most once inside the backend (spec.md
// §4.5's cooperative scheduling note).
//go:generate mockgen -destination=../../testutil/mocks/ratelimit_backend_mock.go -package=mocks -mock_names=Backend=MockRateLimitBackend github.com/relaygate/core/internal/gateway/ratelimit Backend
type Backend interface {
	Check(ctx context.Context, key string, policy Policy, requestID string) (Decision, error)
}

// Limiter wraps a Backend, matching the spec's "RateLimiter delegates
// to a backend" indirection so the rate-limit middleware uses one call
// shape whichever backend is configured. The engine's tenant limiter
// does not use it.
type Limiter struct {
	backend Backend
}

// New builds a Limiter over the given backend.
func New(backend Backend) *Limiter {
	return &Limiter{backend: backend}
}

// Check delegates to the backend.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy, requestID string) (Decision, error) {
	return l.backend.Check(ctx, key, policy, requestID)
}
