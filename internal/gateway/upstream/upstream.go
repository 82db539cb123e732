// Package upstream owns upstream configuration, live stats, and the
// shared HTTP client used to forward requests (spec.md §3, §4.8).
package upstream

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaygate/core/internal/gateway/gwerr"
	"github.com/relaygate/core/internal/gateway/reqctx"
)

var tracer = otel.Tracer("gateway.upstream")

// Config is the static, operator-supplied description of one upstream
// service (spec.md §3).
type Config struct {
	Name       string
	BaseURL    string
	Weight     int64
	TimeoutMS  int64
}

// Normalize applies the spec's defaults and invariants: base URL
// trailing slash stripped, weight >= 1 (default 100), timeout >= 100ms
// (default 3000).
func (c Config) Normalize() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Weight <= 0 {
		c.Weight = 100
	}
	if c.TimeoutMS < 100 {
		c.TimeoutMS = 3000
	}
	return c
}

// Stats are the live, atomically-updated counters for one upstream
// (spec.md §3). Never deleted while the gateway runs.
type Stats struct {
	inFlight            int64
	consecutiveFailures int64
	successTotal        int64
	failureTotal        int64
	avgLatencyMicros    int64
}

// InFlight returns the current in-flight count.
func (s *Stats) InFlight() int64 { return atomic.LoadInt64(&s.inFlight) }

// ConsecutiveFailures returns the current consecutive-failure count.
func (s *Stats) ConsecutiveFailures() int64 { return atomic.LoadInt64(&s.consecutiveFailures) }

// AvgLatencyMicros returns the exponentially smoothed average latency.
func (s *Stats) AvgLatencyMicros() int64 { return atomic.LoadInt64(&s.avgLatencyMicros) }

func (s *Stats) begin() { atomic.AddInt64(&s.inFlight, 1) }
func (s *Stats) end()   { atomic.AddInt64(&s.inFlight, -1) }

func (s *Stats) recordSuccess(latencyMicros int64) {
	atomic.StoreInt64(&s.consecutiveFailures, 0)
	atomic.AddInt64(&s.successTotal, 1)
	s.observeLatency(latencyMicros)
}

func (s *Stats) recordFailure() {
	atomic.AddInt64(&s.consecutiveFailures, 1)
	atomic.AddInt64(&s.failureTotal, 1)
}

// observeLatency applies the spec's 1/8 exponentially-weighted moving
// average under a CAS loop (spec.md §4.8).
func (s *Stats) observeLatency(observedMicros int64) {
	for {
		cur := atomic.LoadInt64(&s.avgLatencyMicros)
		var next int64
		if cur == 0 {
			next = observedMicros
		} else {
			next = (cur*7 + observedMicros) / 8
		}
		if atomic.CompareAndSwapInt64(&s.avgLatencyMicros, cur, next) {
			return
		}
	}
}

// hopByHop is the set of headers stripped in both directions
// (spec.md §4.8).
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

func copyForwardableHeaders(dst, src http.Header) {
	for k, vs := range src {
		if _, skip := hopByHop[strings.ToLower(k)]; skip {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// Pool owns the shared HTTP client and per-upstream configuration and
// stats (spec.md §4.8).
type Pool struct {
	client *http.Client

	mu      sync.RWMutex
	configs map[string]Config
	stats   map[string]*Stats
}

// NewPool builds a Pool with the spec's keep-alive settings: 30s idle
// timeout, at least 32 idle connections per host, TCP_NODELAY (the Go
// net package dials with TCP_NODELAY by default).
func NewPool() *Pool {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Pool{
		client:  &http.Client{Transport: transport},
		configs: make(map[string]Config),
		stats:   make(map[string]*Stats),
	}
}

// Register adds or replaces an upstream's static configuration and
// ensures its stats entry exists.
func (p *Pool) Register(cfg Config) {
	cfg = cfg.Normalize()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[cfg.Name] = cfg
	if _, ok := p.stats[cfg.Name]; !ok {
		p.stats[cfg.Name] = &Stats{}
	}
}

// Config returns the named upstream's configuration.
func (p *Pool) Config(name string) (Config, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.configs[name]
	return c, ok
}

// Stats returns the named upstream's live stats.
func (p *Pool) Stats(name string) (*Stats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stats[name]
	return s, ok
}

// Names returns every registered upstream name.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.configs))
	for n := range p.configs {
		names = append(names, n)
	}
	return names
}

// Forward implements spec.md §4.8's forwarding operation against the
// named upstream.
func (p *Pool) Forward(ctx context.Context, name string, rc *reqctx.RequestContext) (*reqctx.Response, error) {
	ctx, span := tracer.Start(ctx, "upstream.Forward", trace.WithAttributes(
		attribute.String("upstream", name),
		attribute.String("method", rc.Method),
	))
	defer span.End()

	cfg, ok := p.Config(name)
	if !ok {
		err := gwerr.New(gwerr.CodeInternal, "unknown upstream: "+name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	stats, ok := p.Stats(name)
	if !ok {
		err := gwerr.New(gwerr.CodeInternal, "unknown upstream stats: "+name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	stats.begin()
	defer stats.end()

	target := cfg.BaseURL + rc.URI
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(rc.Body) > 0 {
		body = strings.NewReader(string(rc.Body))
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, rc.Method, target, body)
	if err != nil {
		stats.recordFailure()
		span.SetStatus(codes.Error, err.Error())
		return nil, gwerr.Wrap(gwerr.CodeUpstream, "building upstream request", err)
	}
	copyForwardableHeaders(httpReq.Header, rc.Headers)
	httpReq.Header.Set("x-request-id", rc.RequestID)
	if rc.ClientIP != "" {
		httpReq.Header.Set("x-forwarded-for", rc.ClientIP)
	}

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		stats.recordFailure()
		span.SetStatus(codes.Error, err.Error())
		return nil, gwerr.Wrap(gwerr.CodeUpstream, "forwarding to "+name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		stats.recordFailure()
		span.SetStatus(codes.Error, err.Error())
		return nil, gwerr.Wrap(gwerr.CodeUpstream, "reading upstream response", err)
	}
	latencyMicros := time.Since(start).Microseconds()
	span.SetAttributes(attribute.Int64("latency_micros", latencyMicros), attribute.Int("status_code", httpResp.StatusCode))

	if httpResp.StatusCode >= 500 {
		stats.recordFailure()
		span.SetStatus(codes.Error, "upstream 5xx")
	} else {
		stats.recordSuccess(latencyMicros)
		span.SetStatus(codes.Ok, "")
	}

	resp := reqctx.NewResponse(httpResp.StatusCode)
	resp.Body = respBody
	copyForwardableHeaders(resp.Headers, httpResp.Header)
	return resp, nil
}
