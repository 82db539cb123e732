package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/relaygate/core/internal/gateway/ratelimit"
	"github.com/relaygate/core/internal/gateway/reqctx"
	"github.com/relaygate/core/internal/testutil/mocks"
)

func TestRateLimitMiddleware_ShortCircuitsWhenDenied(t *testing.T) {
	// Given a backend that denies the request
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockRateLimitBackend(ctrl)
	backend.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ratelimit.Decision{Allowed: false, RetryAfterSecs: 7}, nil)

	mw := NewRateLimit(ratelimit.New(backend), ratelimit.NewTokenBucket(10, 1), "x-api-key", false, nil)
	rc := reqctx.New("req-1", http.MethodGet, "/x", http.Header{"X-Api-Key": {"tenant-a"}}, nil, "")

	// When OnRequest runs
	cf, err := mw.OnRequest(context.Background(), rc)

	// Then it short-circuits with a 429 and a Retry-After header
	require.NoError(t, err)
	require.True(t, cf.IsShortCircuit())
	assert.Equal(t, http.StatusTooManyRequests, cf.Response().Status)
	assert.Equal(t, "7", cf.Response().Headers.Get("Retry-After"))
}

func TestRateLimitMiddleware_ContinuesWhenAllowed(t *testing.T) {
	// Given a backend that allows the request
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockRateLimitBackend(ctrl)
	backend.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ratelimit.Decision{Allowed: true, Remaining: 5}, nil)

	mw := NewRateLimit(ratelimit.New(backend), ratelimit.NewTokenBucket(10, 1), "x-api-key", false, nil)
	rc := reqctx.New("req-2", http.MethodGet, "/x", http.Header{"X-Api-Key": {"tenant-a"}}, nil, "")

	// When OnRequest runs
	cf, err := mw.OnRequest(context.Background(), rc)

	// Then the chain continues and the remaining count is stashed for OnResponse
	require.NoError(t, err)
	assert.False(t, cf.IsShortCircuit())
	remaining, ok := rc.Meta("ratelimit.remaining")
	assert.True(t, ok)
	assert.Equal(t, "5", remaining)
}

func TestRateLimitMiddleware_FailOpenOnBackendError(t *testing.T) {
	// Given a backend that errors and fail-open enabled
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockRateLimitBackend(ctrl)
	backend.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ratelimit.Decision{}, assertAnError{})

	mw := NewRateLimit(ratelimit.New(backend), ratelimit.NewTokenBucket(10, 1), "x-api-key", true, nil)
	rc := reqctx.New("req-3", http.MethodGet, "/x", http.Header{}, nil, "")

	// When OnRequest runs
	cf, err := mw.OnRequest(context.Background(), rc)

	// Then the request is allowed through despite the backend failure
	require.NoError(t, err)
	assert.False(t, cf.IsShortCircuit())
}

type assertAnError struct{}

func (assertAnError) Error() string { return "backend unavailable" }

func TestRateLimitMiddleware_OnResponseSetsHeader(t *testing.T) {
	// Given a request context carrying a stashed remaining count
	mw := NewRateLimit(nil, ratelimit.Policy{}, "x-api-key", false, nil)
	rc := reqctx.New("req-4", http.MethodGet, "/x", http.Header{}, nil, "")
	rc.SetMeta("ratelimit.remaining", "3")
	resp := reqctx.JSON(http.StatusOK, nil)

	// When OnResponse runs
	err := mw.OnResponse(context.Background(), rc, resp)

	// Then the header is set from the stashed value
	require.NoError(t, err)
	assert.Equal(t, "3", resp.Headers.Get("x-ratelimit-remaining"))
}
