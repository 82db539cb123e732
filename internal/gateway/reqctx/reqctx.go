// Package reqctx defines the per-request context mutated by the
// middleware pipeline as it flows through the gateway (spec.md §3).
package reqctx

import (
	"net/http"
	"time"
)

// Header is net/http.Header, a multi-map with canonicalized keys: the
// original header casing and order are not preserved at egress.
type Header = http.Header

// RequestContext is created at ingress and mutated by middlewares in
// sequence. It is owned by the single goroutine handling the request
// and is never shared across requests.
type RequestContext struct {
	// RequestID is the opaque client-supplied or freshly generated id.
	RequestID string

	Method  string
	URI     string
	Headers Header
	Body    []byte

	ClientIP string

	// Start is a monotonic start timestamp, used only for latency
	// measurement (never serialized).
	Start time.Time

	// Route is set once route resolution succeeds.
	Route *RouteMatch

	// Upstream is set once the gateway core picks a candidate to
	// forward to.
	Upstream string

	// Metadata is an open-ended string map for cross-middleware
	// communication (e.g. "ratelimit.remaining").
	Metadata map[string]string
}

// RouteMatch records which configured route matched the request.
type RouteMatch struct {
	Prefix    string
	Upstreams []string
}

// New builds a RequestContext for an inbound request whose body has
// already been buffered.
func New(requestID, method, uri string, headers Header, body []byte, clientIP string) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Method:    method,
		URI:       uri,
		Headers:   headers,
		Body:      body,
		ClientIP:  clientIP,
		Start:     time.Now(),
		Metadata:  make(map[string]string),
	}
}

// SetMeta stores a metadata value, creating the map if necessary.
func (c *RequestContext) SetMeta(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// Meta returns a metadata value and whether it was present.
func (c *RequestContext) Meta(key string) (string, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// Elapsed returns the time since the context was created.
func (c *RequestContext) Elapsed() time.Duration {
	return time.Since(c.Start)
}
