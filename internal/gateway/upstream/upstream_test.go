package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/internal/gateway/reqctx"
)

func TestConfig_NormalizeAppliesDefaults(t *testing.T) {
	// Given a config with a trailing slash, no weight, and a tiny timeout
	cfg := Config{Name: "a", BaseURL: "http://svc/", Weight: 0, TimeoutMS: 1}

	// When normalized
	cfg = cfg.Normalize()

	// Then the defaults from spec.md apply
	assert.Equal(t, "http://svc", cfg.BaseURL)
	assert.EqualValues(t, 100, cfg.Weight)
	assert.EqualValues(t, 3000, cfg.TimeoutMS)
}

func TestPool_ForwardRecordsSuccess(t *testing.T) {
	// Given an upstream server that sets a response header and a registered pool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Connection"))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pool := NewPool()
	pool.Register(Config{Name: "svc", BaseURL: srv.URL, Weight: 10, TimeoutMS: 2000})

	rc := reqctx.New("req-1", http.MethodGet, "/ping", http.Header{"Connection": {"keep-alive"}}, nil, "1.2.3.4")

	// When forwarded
	resp, err := pool.Forward(context.Background(), "svc", rc)

	// Then the response is relayed and stats record success
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, "yes", resp.Headers.Get("X-Upstream"))

	stats, ok := pool.Stats("svc")
	require.True(t, ok)
	assert.EqualValues(t, 0, stats.InFlight())
	assert.EqualValues(t, 0, stats.ConsecutiveFailures())
}

func TestPool_ForwardRecordsFailureOn5xx(t *testing.T) {
	// Given an upstream that always returns 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := NewPool()
	pool.Register(Config{Name: "svc", BaseURL: srv.URL, Weight: 10, TimeoutMS: 2000})
	rc := reqctx.New("req-2", http.MethodGet, "/fail", http.Header{}, nil, "")

	// When forwarded
	resp, err := pool.Forward(context.Background(), "svc", rc)

	// Then the 500 is relayed as a response, not an error, but counted as a failure
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)

	stats, ok := pool.Stats("svc")
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.ConsecutiveFailures())
}

func TestPool_ForwardUnknownUpstream(t *testing.T) {
	// Given a pool with no registered upstreams
	pool := NewPool()
	rc := reqctx.New("req-3", http.MethodGet, "/x", http.Header{}, nil, "")

	// When forwarding to a name that was never registered
	_, err := pool.Forward(context.Background(), "missing", rc)

	// Then it fails fast
	assert.Error(t, err)
}
