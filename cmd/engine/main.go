// Command engine runs the sandboxed code-execution service: HTTP
// submission API, bounded job queue, worker pool, and the sandbox
// backend (container or process), composed with go.uber.org/fx the
// same way cmd/gateway composes the gateway binary.
package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/relaygate/core/internal/engine/api"
	"github.com/relaygate/core/internal/engine/metrics"
	"github.com/relaygate/core/internal/engine/queue"
	"github.com/relaygate/core/internal/engine/ratelimit"
	"github.com/relaygate/core/internal/engine/sandbox"
	"github.com/relaygate/core/internal/engine/store"
	"github.com/relaygate/core/internal/engine/worker"
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
			provideMetrics,
			provideQueue,
			provideStore,
			provideSandboxBackend,
			provideLimiter,
			provideAPIConfig,
			provideHealthRegistry,
			provideAPI,
			provideWorkerPool,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	).Run()
}

func loadConfig() (*config.EngineConfig, error) {
	return config.LoadEngine()
}

func provideLogger(cfg *config.EngineConfig) *logging.Logger {
	return logging.New(cfg.ServiceName, cfg.LogLevel)
}

func provideRegistry() *prometheus.Registry {
	return platformmetrics.NewRegistry()
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideQueue(cfg *config.EngineConfig, m *metrics.Metrics) *queue.Queue {
	return queue.New(cfg.QueueCapacity, m)
}

func provideStore(cfg *config.EngineConfig, logger *logging.Logger) *store.Store {
	return store.New(cfg.PersistPath, logger)
}

func provideSandboxBackend(cfg *config.EngineConfig) sandbox.Backend {
	if cfg.SandboxBackend == "container" {
		return sandbox.NewContainerBackend(cfg.WorkDir, cfg.NetworkAllowedTenants)
	}
	return sandbox.NewProcessBackend(cfg.WorkDir, cfg.CompileCacheDir)
}

func provideLimiter(cfg *config.EngineConfig) *ratelimit.TenantLimiter {
	return ratelimit.NewTenantLimiter(float64(cfg.RateLimitPerMinute), float64(cfg.RateLimitBurst))
}

func provideAPIConfig(cfg *config.EngineConfig) api.Config {
	pairs := config.TenantKeyPairs(cfg.APIKeys)
	keys := make([]api.TenantKey, 0, len(pairs))
	for tenant, key := range pairs {
		keys = append(keys, api.TenantKey{TenantID: tenant, Key: []byte(key)})
	}
	allowed := make(map[string]struct{}, len(cfg.NetworkAllowedTenants))
	for _, t := range cfg.NetworkAllowedTenants {
		allowed[t] = struct{}{}
	}
	return api.Config{TenantKeys: keys, NetworkAllowedTenants: allowed}
}

// provideHealthRegistry supplements the spec-mandated GET /healthz
// (kept as a fixed {"ok":true} liveness response) with a richer
// internal probe set exposed separately at GET /readyz: a
// goroutine-count ceiling, the queue's open/closed state, and the
// optional persistence path's writability.
func provideHealthRegistry(registry *prometheus.Registry, q *queue.Queue, st *store.Store) *health.Registry {
	hc := health.New(registry, "engine")
	hc.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.AddReadinessCheck("queue-open", func() error {
		if q.Closed() {
			return errors.New("execution queue is closed")
		}
		return nil
	})
	hc.AddReadinessCheck("store-reachable", st.Reachable)
	return hc
}

func provideAPI(cfg api.Config, q *queue.Queue, st *store.Store, limiter *ratelimit.TenantLimiter, m *metrics.Metrics, registry *prometheus.Registry, logger *logging.Logger, hc *health.Registry) *api.API {
	return api.New(cfg, q, st, limiter, m, registry, logger).WithHealth(hc)
}

func provideWorkerPool(cfg *config.EngineConfig, q *queue.Queue, st *store.Store, backend sandbox.Backend, m *metrics.Metrics, logger *logging.Logger) *worker.Pool {
	return &worker.Pool{
		Count:   cfg.WorkerCount,
		Queue:   q,
		Store:   st,
		Backend: backend,
		Metrics: m,
		Logger:  logger,
	}
}

func provideHTTPServer(cfg *config.EngineConfig, a *api.API) *http.Server {
	return &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: a.Router(),
	}
}

func registerLifecycle(lc fx.Lifecycle, server *http.Server, pool *worker.Pool, q *queue.Queue, logger *logging.Logger, cfg *config.EngineConfig) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pool.Start(context.Background())
			logger.Info("engine listening", logging.Int("port", cfg.Port))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("engine server error", logging.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			q.Close()
			pool.Wait()
			return err
		},
	})
}
