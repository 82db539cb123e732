package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	// Given a fresh breaker
	reg := NewRegistry(DefaultConfig())
	b := reg.Get("svc-a")

	// When a request is admitted and recorded as success
	probe, ok := b.AllowRequest()
	require.True(t, ok)
	probe.Success()

	// Then the breaker stays closed
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	// Given a breaker with a low failure threshold
	cfg := Config{FailureThreshold: 3, OpenDuration: 30 * time.Second, HalfOpenMaxRequests: 1}
	reg := NewRegistry(cfg)
	b := reg.Get("svc-b")

	// When three consecutive requests fail
	for i := 0; i < 3; i++ {
		probe, ok := b.AllowRequest()
		require.True(t, ok)
		probe.Failure()
	}

	// Then the breaker opens and denies further admission
	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.IsOpen())
	_, ok := b.AllowRequest()
	assert.False(t, ok)
}

func TestBreaker_HalfOpensAfterTimeout(t *testing.T) {
	// Given a breaker that has tripped open with a short open duration
	cfg := Config{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenMaxRequests: 1}
	reg := NewRegistry(cfg)
	b := reg.Get("svc-c")

	probe, ok := b.AllowRequest()
	require.True(t, ok)
	probe.Failure()
	require.True(t, b.IsOpen())

	// When the open duration elapses
	time.Sleep(20 * time.Millisecond)

	// Then the next admission check observes half-open and allows a probe
	_, ok = b.AllowRequest()
	assert.True(t, ok)
}

func TestProbe_RecordsOutcomeExactlyOnce(t *testing.T) {
	// Given an admitted probe
	reg := NewRegistry(DefaultConfig())
	b := reg.Get("svc-d")
	probe, ok := b.AllowRequest()
	require.True(t, ok)

	// When both Success and Failure are called
	probe.Success()
	probe.Failure()

	// Then only the first call is honored and the breaker stays closed
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistry_CachesBreakersPerName(t *testing.T) {
	// Given a registry
	reg := NewRegistry(DefaultConfig())

	// When Get is called twice with the same name
	a := reg.Get("svc-e")
	b := reg.Get("svc-e")

	// Then the same breaker instance is returned
	assert.Same(t, a, b)
}
