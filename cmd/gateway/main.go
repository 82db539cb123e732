// Command gateway runs the API gateway: middleware pipeline, router,
// circuit breakers, and upstream pool composed behind a single HTTP
// listener, wired together with go.uber.org/fx the way the teacher's
// internal/infra/fx.Module composes its own binary.
package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/relaygate/core/internal/gateway/breaker"
	"github.com/relaygate/core/internal/gateway/gateway"
	"github.com/relaygate/core/internal/gateway/middleware"
	"github.com/relaygate/core/internal/gateway/ratelimit"
	"github.com/relaygate/core/internal/gateway/router"
	"github.com/relaygate/core/internal/gateway/upstream"
	"github.com/relaygate/core/internal/platform/config"
	"github.com/relaygate/core/internal/platform/health"
	"github.com/relaygate/core/internal/platform/logging"
	platformmetrics "github.com/relaygate/core/internal/platform/metrics"
)

func main() {
	fx.New(
		fx.Provide(
			loadConfig,
			provideLogger,
			provideRegistry,
			provideUpstreamPool,
			provideBreakerRegistry,
			provideRouter,
			provideRateLimitBackend,
			providePipeline,
			provideGateway,
			provideHealthRegistry,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	).Run()
}

func loadConfig() (*config.GatewayConfig, error) {
	return config.LoadGateway()
}

func provideLogger(cfg *config.GatewayConfig) *logging.Logger {
	return logging.New(cfg.ServiceName, cfg.LogLevel)
}

func provideRegistry() *prometheus.Registry {
	return platformmetrics.NewRegistry()
}

func provideUpstreamPool(cfg *config.GatewayConfig) (*upstream.Pool, error) {
	pool := upstream.NewPool()
	upstreams, err := cfg.Upstreams()
	if err != nil {
		return nil, err
	}
	for _, u := range upstreams {
		pool.Register(upstream.Config{Name: u.Name, BaseURL: u.BaseURL, Weight: u.Weight, TimeoutMS: u.TimeoutMS})
	}
	return pool, nil
}

func provideBreakerRegistry(cfg *config.GatewayConfig) *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		FailureThreshold:    uint32(cfg.CBFailureThreshold),
		OpenDuration:        cfg.CBOpenSeconds,
		HalfOpenMaxRequests: uint32(cfg.CBHalfOpenMaxReqs),
	})
}

func provideRouter(cfg *config.GatewayConfig) *router.Router {
	return router.New(router.Penalties{
		InFlightPenalty: float64(cfg.InFlightPenalty),
		FailurePenalty:  float64(cfg.FailurePenalty),
	})
}

func provideRateLimitBackend(cfg *config.GatewayConfig) ratelimit.Backend {
	if cfg.RateLimitBackend == "redis" && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ratelimit.NewRedisBackend(client, cfg.RateLimitKeyPrefix)
	}
	return ratelimit.NewMemoryBackend()
}

func providePipeline(cfg *config.GatewayConfig, backend ratelimit.Backend, logger *logging.Logger) *middleware.Pipeline {
	mws := []middleware.Middleware{
		middleware.NewLogging(logger),
		middleware.NewValidation(middleware.ValidationConfig{
			RequireHostHeader: cfg.RequireHost,
			MaxHeaders:        cfg.MaxHeaders,
			AllowedMethods:    cfg.AllowedMethods,
			MaxBodyBytes:      cfg.MaxBodyBytes,
		}),
		middleware.NewAuth(cfg.APIKeyHeader, cfg.APIKeys, cfg.AuthExemptPrefix),
	}
	if cfg.RateLimitEnabled {
		policy := ratelimitPolicy(cfg)
		limiter := ratelimit.New(backend)
		mws = append(mws, middleware.NewRateLimit(limiter, policy, cfg.RateLimitHeader, cfg.RateLimitFailOpen, logger))
	}
	return middleware.New(mws...)
}

func ratelimitPolicy(cfg *config.GatewayConfig) ratelimit.Policy {
	if cfg.RateLimitPolicyKind == "sliding_window" {
		return ratelimit.NewSlidingWindow(cfg.RateLimitWindowSeconds, cfg.RateLimitMaxRequests)
	}
	return ratelimit.NewTokenBucket(cfg.RateLimitCapacity, cfg.RateLimitRefillPerSec)
}

func provideGateway(cfg *config.GatewayConfig, pipeline *middleware.Pipeline, breakers *breaker.Registry, r *router.Router, pool *upstream.Pool, logger *logging.Logger) (*gateway.Gateway, error) {
	routes, err := cfg.Routes()
	if err != nil {
		return nil, err
	}
	gwRoutes := make([]gateway.Route, len(routes))
	for i, rt := range routes {
		gwRoutes[i] = gateway.Route{Prefix: rt.Prefix, Upstreams: rt.Upstreams}
	}
	return gateway.New(gateway.Config{MaxBodyBytes: cfg.MaxBodyBytes}, pipeline, gwRoutes, r, breakers, pool, logger), nil
}

// provideHealthRegistry supplements the spec-mandated GET /healthz
// (kept as a fixed {"ok":true} liveness response) with a richer
// internal probe set exposed separately at GET /readyz: a
// goroutine-count ceiling and a reachability check per upstream.
func provideHealthRegistry(registry *prometheus.Registry, pool *upstream.Pool) *health.Registry {
	hc := health.New(registry, "gateway")
	hc.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	for _, name := range pool.Names() {
		cfg, ok := pool.Config(name)
		if !ok {
			continue
		}
		addr := dialAddr(cfg.BaseURL)
		if addr == "" {
			continue
		}
		hc.AddReadinessCheck("upstream-"+name, healthcheck.Timeout(healthcheck.TCPDialCheck(addr, 2*time.Second), 3*time.Second))
	}
	return hc
}

func dialAddr(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}

func provideHTTPServer(cfg *config.GatewayConfig, gw *gateway.Gateway, registry *prometheus.Registry, hc *health.Registry) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Get("/readyz", hc.ReadyHandler())
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handleProxy(gw, w, r)
	})

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
		mux.Method(method, "/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleProxy(gw, w, r)
		}))
	}

	return &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: mux,
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func handleProxy(gw *gateway.Gateway, w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := gw.Handle(r.Context(), gateway.Inbound{
		RequestID: r.Header.Get("x-request-id"),
		Method:    r.Method,
		URI:       r.URL.RequestURI(),
		Headers:   r.Header,
		Body:      body,
		ClientIP:  clientIP(r),
	})

	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func registerLifecycle(lc fx.Lifecycle, server *http.Server, logger *logging.Logger, cfg *config.GatewayConfig) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("gateway listening", logging.Int("port", cfg.Port))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("gateway server error", logging.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}
