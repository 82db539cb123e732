// Package gateway wires the middleware pipeline, router, circuit
// breakers, and upstream pool into the single request flow described
// by spec.md §4.9.
package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/relaygate/core/internal/gateway/breaker"
	"github.com/relaygate/core/internal/gateway/gwerr"
	"github.com/relaygate/core/internal/gateway/middleware"
	"github.com/relaygate/core/internal/gateway/reqctx"
	"github.com/relaygate/core/internal/gateway/router"
	"github.com/relaygate/core/internal/gateway/upstream"
	"github.com/relaygate/core/internal/platform/logging"
)

// Route is the static, operator-supplied mapping from a path prefix to
// an ordered, non-empty list of upstream names (spec.md §3). Longest
// matching prefix wins.
type Route struct {
	Prefix    string
	Upstreams []string
}

// Config configures the Gateway. MaxBodyBytes is the largest request
// body Handle accepts: a longer body gets a 413 before any middleware
// runs. Handle receives the body already read in full, so this limit
// does not bound how much of it the caller buffers.
type Config struct {
	MaxBodyBytes int64
}

// Gateway is the composed request handler: middleware pipeline, route
// table, router, breaker registry, and upstream pool.
type Gateway struct {
	cfg      Config
	pipeline *middleware.Pipeline
	routes   []Route
	router   *router.Router
	breakers *breaker.Registry
	upstreams *upstream.Pool
	logger   *logging.Logger
}

// New builds a Gateway. Routes are sorted by descending prefix length
// once so longest-prefix matching is a simple linear scan.
func New(cfg Config, pipeline *middleware.Pipeline, routes []Route, r *router.Router, breakers *breaker.Registry, upstreams *upstream.Pool, logger *logging.Logger) *Gateway {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Gateway{
		cfg:       cfg,
		pipeline:  pipeline,
		routes:    sorted,
		router:    r,
		breakers:  breakers,
		upstreams: upstreams,
		logger:    logger,
	}
}

// Inbound is the raw, not-yet-validated request data the HTTP front
// door hands to Handle, decoupling this package from net/http.
type Inbound struct {
	RequestID string
	Method    string
	URI       string
	Headers   reqctx.Header
	Body      []byte
	ClientIP  string
}

// Handle executes spec.md §4.9's ten steps for a single request.
func (g *Gateway) Handle(ctx context.Context, in Inbound) *reqctx.Response {
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if g.cfg.MaxBodyBytes > 0 && int64(len(in.Body)) > g.cfg.MaxBodyBytes {
		return g.finalize(ctx, reqctx.New(requestID, in.Method, in.URI, in.Headers, nil, in.ClientIP), nil, payloadTooLarge(), requestID)
	}

	rc := reqctx.New(requestID, in.Method, in.URI, in.Headers, in.Body, in.ClientIP)
	ctx = logging.WithRequestID(ctx, requestID)

	outcome := g.pipeline.RunRequest(ctx, rc)
	if outcome.Err != nil {
		return g.finalize(ctx, rc, outcome.Executed, errorResponse(outcome.Err), requestID)
	}
	if outcome.ShortCircuit != nil {
		return g.finalize(ctx, rc, outcome.Executed, outcome.ShortCircuit, requestID)
	}

	route, ok := g.matchRoute(rc.URI)
	if !ok {
		return g.finalize(ctx, rc, outcome.Executed, routeNotFound(), requestID)
	}
	rc.Route = &reqctx.RouteMatch{Prefix: route.Prefix, Upstreams: route.Upstreams}

	candidates := g.buildCandidates(route.Upstreams)
	if len(candidates) == 0 {
		return g.finalize(ctx, rc, outcome.Executed, upstreamUnavailable(), requestID)
	}

	ranked := g.router.Rank(candidates)

	var lastErr error
	for _, name := range ranked {
		br := g.breakers.Get(name)
		probe, allowed := br.AllowRequest()
		if !allowed {
			continue
		}
		if _, ok := g.upstreams.Config(name); !ok {
			probe.Success()
			continue
		}

		rc.Upstream = name
		resp, err := g.upstreams.Forward(ctx, name, rc)
		if err != nil {
			probe.Failure()
			lastErr = err
			continue
		}
		if resp.Status >= 500 {
			probe.Failure()
		} else {
			probe.Success()
		}
		return g.finalize(ctx, rc, outcome.Executed, resp, requestID)
	}

	if lastErr != nil {
		return g.finalize(ctx, rc, outcome.Executed, errorResponse(lastErr), requestID)
	}
	return g.finalize(ctx, rc, outcome.Executed, upstreamUnavailable(), requestID)
}

func (g *Gateway) buildCandidates(names []string) []router.Candidate {
	candidates := make([]router.Candidate, 0, len(names))
	for _, name := range names {
		cfg, ok := g.upstreams.Config(name)
		if !ok {
			continue
		}
		stats, ok := g.upstreams.Stats(name)
		if !ok {
			continue
		}
		candidates = append(candidates, router.Candidate{
			Name:                name,
			Weight:              cfg.Weight,
			InFlight:            stats.InFlight(),
			ConsecutiveFailures: stats.ConsecutiveFailures(),
			AvgLatencyMicros:    stats.AvgLatencyMicros(),
			BreakerOpen:         g.breakers.Get(name).IsOpen(),
			PreferLowLatency:    true,
		})
	}
	return candidates
}

func (g *Gateway) matchRoute(uri string) (Route, bool) {
	for _, route := range g.routes {
		if strings.HasPrefix(uri, route.Prefix) {
			return route, true
		}
	}
	return Route{}, false
}

// finalize runs reverse-order on_response for the executed middlewares
// and attaches the fixed hardening headers (spec.md §4.9 step 10).
func (g *Gateway) finalize(ctx context.Context, rc *reqctx.RequestContext, executed []int, resp *reqctx.Response, requestID string) *reqctx.Response {
	if executed != nil {
		g.pipeline.RunResponse(ctx, rc, resp, executed, g.logger)
	}
	resp.Headers.Set("x-request-id", requestID)
	resp.Headers.Set("x-content-type-options", "nosniff")
	resp.Headers.Set("x-frame-options", "DENY")
	resp.Headers.Set("referrer-policy", "no-referrer")
	return resp
}

func errorResponse(err error) *reqctx.Response {
	code := gwerr.CodeInternal
	msg := err.Error()
	if e, ok := gwerr.As(err); ok {
		code = e.Code
		msg = e.Message
	}
	body, _ := json.Marshal(map[string]string{"error": string(code), "message": msg})
	return reqctx.JSON(gwerr.Status(err), body)
}

func routeNotFound() *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodeRouteNotFound),
		"message": "no route matches this path",
	})
	return reqctx.JSON(gwerr.New(gwerr.CodeRouteNotFound, "").Status(), body)
}

func upstreamUnavailable() *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodeUpstreamUnavailable),
		"message": "no upstream candidates available",
	})
	return reqctx.JSON(gwerr.New(gwerr.CodeUpstreamUnavailable, "").Status(), body)
}

func payloadTooLarge() *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodePayloadTooLarge),
		"message": "request body exceeds the configured limit",
	})
	return reqctx.JSON(gwerr.New(gwerr.CodePayloadTooLarge, "").Status(), body)
}
