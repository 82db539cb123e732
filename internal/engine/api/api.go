// Package api implements the execution engine's HTTP surface (spec.md
// §6): health, Prometheus metrics, and the execution submission/
// lookup endpoints, wired onto a chi router the way the teacher wires
// its own transport/http router.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	enginemetrics "github.com/relaygate/core/internal/engine/metrics"
	"github.com/relaygate/core/internal/engine/models"
	"github.com/relaygate/core/internal/engine/queue"
	"github.com/relaygate/core/internal/engine/ratelimit"
	"github.com/relaygate/core/internal/engine/store"
	gatewaymw "github.com/relaygate/core/internal/gateway/middleware"
	"github.com/relaygate/core/internal/platform/health"
	"github.com/relaygate/core/internal/platform/logging"
)

// TenantKey is one configured "tenant:key" credential (spec.md §6).
type TenantKey struct {
	TenantID string
	Key      []byte
}

// Config configures the API layer.
type Config struct {
	TenantKeys            []TenantKey
	NetworkAllowedTenants map[string]struct{}
}

// API composes the engine's HTTP handlers over its internal
// components.
type API struct {
	cfg       Config
	queue     *queue.Queue
	store     *store.Store
	limiter   *ratelimit.TenantLimiter
	metrics   *enginemetrics.Metrics
	registry  *prometheus.Registry
	validator *validator.Validate
	logger    *logging.Logger
	health    *health.Registry
}

// WithHealth attaches a readiness probe registry, supplementing the
// spec-mandated GET /healthz with GET /readyz once checks are
// registered against it. Returns the API for method chaining.
func (a *API) WithHealth(hc *health.Registry) *API {
	a.health = hc
	return a
}

// New builds the API.
func New(cfg Config, q *queue.Queue, st *store.Store, limiter *ratelimit.TenantLimiter, m *enginemetrics.Metrics, registry *prometheus.Registry, logger *logging.Logger) *API {
	return &API{
		cfg:       cfg,
		queue:     q,
		store:     st,
		limiter:   limiter,
		metrics:   m,
		registry:  registry,
		validator: validator.New(),
		logger:    logger,
	}
}

// Router builds the chi router exposing spec.md §6's surface.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	if a.health != nil {
		r.Get("/readyz", a.health.ReadyHandler())
	}
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Post("/v1/executions", a.handleSubmit)
	r.Get("/v1/executions/{id}", a.handleSummary)
	r.Get("/v1/executions/{id}/result", a.handleResult)
	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSubmit implements POST /v1/executions per spec.md §6: auth,
// per-tenant rate limit, validation, network-policy check, then
// record creation and enqueue — in that order (spec.md §9's second
// open question: rate-limit before validation before queue).
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := a.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}

	if !a.limiter.Allow(tenantID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "tenant rate limit exceeded")
		return
	}

	var req models.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if msg, ok := a.validate(req); !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	if req.AllowNetwork {
		if _, allowed := a.cfg.NetworkAllowedTenants[tenantID]; !allowed {
			writeError(w, http.StatusForbidden, "forbidden", "tenant is not permitted to request network access")
			return
		}
	}

	limits := req.Limits.Normalize()
	id := uuid.NewString()
	a.store.Create(id, tenantID, req, limits)

	if err := a.queue.Submit(models.QueuedJob{ID: id, TenantID: tenantID, Request: req, Limits: limits}); err != nil {
		a.store.MarkRejected(id, err.Error())
		writeError(w, http.StatusServiceUnavailable, "queue_full", "execution queue is full")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

// validate applies the struct-tag rules, then the zero-limit check the
// tags do not express, plus an explicit test-case stdin cap that
// repeats the TestCase tag (spec.md §6).
func (a *API) validate(req models.ExecutionRequest) (string, bool) {
	if err := a.validator.Struct(req); err != nil {
		return err.Error(), false
	}
	if req.Limits.AnyLimitZero() {
		return "limit fields must be nonzero", false
	}
	for _, tc := range req.TestCases {
		if len(tc.Stdin) > 64000 {
			return "test_case.stdin exceeds 64000 bytes", false
		}
	}
	return "", true
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := a.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown execution id")
		return
	}
	tenantID, ok := a.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}
	if tenantID != rec.TenantID {
		writeError(w, http.StatusForbidden, "forbidden", "execution belongs to a different tenant")
		return
	}
	writeJSON(w, http.StatusOK, rec.ToSummary())
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := a.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown execution id")
		return
	}
	tenantID, ok := a.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}
	if tenantID != rec.TenantID {
		writeError(w, http.StatusForbidden, "forbidden", "execution belongs to a different tenant")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// authenticate resolves the x-api-key header against the configured
// tenant:key pairs using a constant-time comparison (spec.md §6),
// reusing the gateway's comparison primitive.
func (a *API) authenticate(r *http.Request) (string, bool) {
	candidate := []byte(strings.TrimSpace(r.Header.Get("x-api-key")))
	if len(candidate) == 0 {
		return "", false
	}
	for _, tk := range a.cfg.TenantKeys {
		if gatewaymw.ConstantTimeEqual(candidate, tk.Key) {
			return tk.TenantID, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
