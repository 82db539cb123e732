package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/internal/gateway/breaker"
	"github.com/relaygate/core/internal/gateway/middleware"
	"github.com/relaygate/core/internal/gateway/router"
	"github.com/relaygate/core/internal/gateway/upstream"
)

func newTestGateway(t *testing.T, upstreamURL string) *Gateway {
	t.Helper()
	pool := upstream.NewPool()
	pool.Register(upstream.Config{Name: "svc", BaseURL: upstreamURL, Weight: 100, TimeoutMS: 2000})
	return New(
		Config{MaxBodyBytes: 1024},
		middleware.New(),
		[]Route{{Prefix: "/api", Upstreams: []string{"svc"}}},
		router.New(router.DefaultPenalties()),
		breaker.NewRegistry(breaker.DefaultConfig()),
		pool,
		nil,
	)
}

func TestGateway_ForwardsMatchedRoute(t *testing.T) {
	// Given a backend that echoes 200 and a gateway routing /api to it
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer backend.Close()
	gw := newTestGateway(t, backend.URL)

	// When a request matching the route is handled
	resp := gw.Handle(context.Background(), Inbound{
		Method:  http.MethodGet,
		URI:     "/api/things",
		Headers: http.Header{},
	})

	// Then the backend's response is relayed with hardening headers attached
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Body)
	assert.Equal(t, "nosniff", resp.Headers.Get("x-content-type-options"))
	assert.Equal(t, "DENY", resp.Headers.Get("x-frame-options"))
	assert.NotEmpty(t, resp.Headers.Get("x-request-id"))
}

func TestGateway_RouteNotFound(t *testing.T) {
	// Given a gateway with no matching route
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	gw := newTestGateway(t, backend.URL)

	// When a request to an unmapped path is handled
	resp := gw.Handle(context.Background(), Inbound{Method: http.MethodGet, URI: "/unmapped", Headers: http.Header{}})

	// Then it responds 404 with hardening headers still attached
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "nosniff", resp.Headers.Get("x-content-type-options"))
}

func TestGateway_PayloadTooLarge(t *testing.T) {
	// Given a gateway with a small max body size
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	gw := newTestGateway(t, backend.URL)

	// When a request body exceeds the limit
	resp := gw.Handle(context.Background(), Inbound{
		Method:  http.MethodPost,
		URI:     "/api/upload",
		Headers: http.Header{},
		Body:    make([]byte, 2048),
	})

	// Then it responds 413
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status)
}

func TestGateway_UpstreamUnavailableWhenBreakerOpen(t *testing.T) {
	// Given an upstream whose breaker has already tripped open
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	pool := upstream.NewPool()
	pool.Register(upstream.Config{Name: "svc", BaseURL: backend.URL, Weight: 100, TimeoutMS: 2000})
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, OpenDuration: 30_000_000_000, HalfOpenMaxRequests: 1})
	probe, ok := breakers.Get("svc").AllowRequest()
	require.True(t, ok)
	probe.Failure()

	gw := New(Config{MaxBodyBytes: 1024}, middleware.New(), []Route{{Prefix: "/api", Upstreams: []string{"svc"}}},
		router.New(router.DefaultPenalties()), breakers, pool, nil)

	// When a request is handled against the tripped upstream
	resp := gw.Handle(context.Background(), Inbound{Method: http.MethodGet, URI: "/api/x", Headers: http.Header{}})

	// Then no candidate is available
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestGateway_LongestPrefixWins(t *testing.T) {
	// Given two overlapping routes of different specificity
	specific := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Which", "specific")
		w.WriteHeader(http.StatusOK)
	}))
	defer specific.Close()
	general := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Which", "general")
		w.WriteHeader(http.StatusOK)
	}))
	defer general.Close()

	pool := upstream.NewPool()
	pool.Register(upstream.Config{Name: "specific-svc", BaseURL: specific.URL, Weight: 100, TimeoutMS: 2000})
	pool.Register(upstream.Config{Name: "general-svc", BaseURL: general.URL, Weight: 100, TimeoutMS: 2000})

	gw := New(Config{MaxBodyBytes: 1024}, middleware.New(), []Route{
		{Prefix: "/api", Upstreams: []string{"general-svc"}},
		{Prefix: "/api/v2", Upstreams: []string{"specific-svc"}},
	}, router.New(router.DefaultPenalties()), breaker.NewRegistry(breaker.DefaultConfig()), pool, nil)

	// When a request matches both prefixes
	resp := gw.Handle(context.Background(), Inbound{Method: http.MethodGet, URI: "/api/v2/things", Headers: http.Header{}})

	// Then the longer, more specific prefix wins
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "specific", resp.Headers.Get("X-Which"))
}
