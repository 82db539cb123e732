// Package breaker implements the per-upstream circuit breaker
// (spec.md §4.6): one state machine per service name, lazily created
// and never removed, gating request admission through a
// closed/open/half-open state machine.
//
// The state machine is built on gobreaker.TwoStepCircuitBreaker
// (github.com/sony/gobreaker), the same library the teacher uses for
// its own resilience layer (internal/infra/resilience). gobreaker's
// Settings map onto the spec one-to-one: MaxRequests is
// half_open_max_requests, Timeout is open_seconds, and ReadyToTrip
// comparing ConsecutiveFailures against failure_threshold reproduces
// the Closed -> Open(until) transition. The two-step Allow()/done()
// API lets the gateway core call AllowRequest ahead of forwarding and
// record the outcome afterward, instead of wrapping the whole
// forward-and-measure call in a single closure.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors the spec's three-phase state for external inspection
// (metrics, logging) without leaking the gobreaker type.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures every breaker a Registry creates.
type Config struct {
	FailureThreshold   uint32
	OpenDuration       time.Duration
	HalfOpenMaxRequests uint32
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		OpenDuration:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Probe is returned by AllowRequest when the breaker admits a request.
// The caller must call exactly one of Success or Failure once the
// guarded operation completes.
type Probe struct {
	done func(success bool)
	used bool
	mu   sync.Mutex
}

// Success records the guarded operation as successful.
func (p *Probe) Success() { p.finish(true) }

// Failure records the guarded operation as failed.
func (p *Probe) Failure() { p.finish(false) }

func (p *Probe) finish(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used {
		return
	}
	p.used = true
	p.done(success)
}

// Breaker is a single per-service circuit breaker.
type Breaker struct {
	name string
	cb   *gobreaker.TwoStepCircuitBreaker
}

func newBreaker(name string, cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

// Name returns the service name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// AllowRequest implements spec.md §4.6's allow_request: it admits the
// request (returning a Probe to record the outcome) or denies it.
func (b *Breaker) AllowRequest() (*Probe, bool) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, false
	}
	return &Probe{done: done}, true
}

// IsOpen is a read-mostly probe: true if the breaker is currently
// Open and its deadline has not elapsed. If Open and the deadline has
// elapsed, gobreaker's State() itself performs the Open -> HalfOpen
// transition and this returns false, matching spec.md §4.6.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker's current phase.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry lazily creates and caches one Breaker per service name,
// never removing entries for the process lifetime (spec.md §4.6).
type Registry struct {
	cfg       Config
	breakers  sync.Map // map[string]*Breaker
}

// NewRegistry builds a Registry that creates breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Get returns the breaker for name, creating it on first lookup.
func (r *Registry) Get(name string) *Breaker {
	if v, ok := r.breakers.Load(name); ok {
		return v.(*Breaker)
	}
	b := newBreaker(name, r.cfg)
	actual, _ := r.breakers.LoadOrStore(name, b)
	return actual.(*Breaker)
}
