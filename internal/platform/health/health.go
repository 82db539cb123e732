// Package health wraps heptiolabs/healthcheck with project-specific
// conventions: liveness and readiness checks are surfaced together at
// GET /readyz, while each binary keeps its GET /healthz as a fixed
// response that does not run these checks.
package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a heptiolabs/healthcheck handler with Prometheus
// metrics for each check's pass/fail outcome.
type Registry struct {
	handler healthcheck.Handler
}

// New builds a Registry reporting check outcomes under namespace.
func New(registry prometheus.Registerer, namespace string) *Registry {
	return &Registry{handler: healthcheck.NewMetricsHandler(registry, namespace)}
}

// AddLivenessCheck registers a check whose failure means the process
// itself is broken and should be restarted. Every liveness check is
// also evaluated as part of readiness.
func (r *Registry) AddLivenessCheck(name string, check healthcheck.Check) {
	r.handler.AddLivenessCheck(name, check)
}

// AddReadinessCheck registers a check whose failure means the process
// should stop receiving traffic without necessarily being restarted.
func (r *Registry) AddReadinessCheck(name string, check healthcheck.Check) {
	r.handler.AddReadinessCheck(name, check)
}

// LiveHandler serves a liveness endpoint: 200 while
// every liveness check passes, 503 with per-check error detail otherwise.
func (r *Registry) LiveHandler() http.HandlerFunc {
	return r.handler.LiveEndpoint
}

// ReadyHandler serves the richer internal readiness endpoint: 200
// only while every liveness and readiness check passes.
func (r *Registry) ReadyHandler() http.HandlerFunc {
	return r.handler.ReadyEndpoint
}
