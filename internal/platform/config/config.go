// Package config provides environment-based configuration loading for
// the gateway and execution-engine binaries, following the same
// envconfig struct-tag convention as the teacher's internal/infra/config.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RouteSpec is one entry of GatewayConfig.RoutesJSON.
type RouteSpec struct {
	Prefix    string   `json:"prefix"`
	Upstreams []string `json:"upstreams"`
}

// UpstreamSpec is one entry of GatewayConfig.UpstreamsJSON.
type UpstreamSpec struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	Weight    int64  `json:"weight"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// GatewayConfig holds the gateway binary's configuration.
type GatewayConfig struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"api-gateway"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8080"`

	MaxBodyBytes  int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	MaxHeaders    int   `envconfig:"MAX_HEADERS" default:"64"`
	RequireHost   bool  `envconfig:"REQUIRE_HOST_HEADER" default:"false"`
	AllowedMethods []string `envconfig:"ALLOWED_METHODS" default:"GET,HEAD,POST,PUT,PATCH,DELETE,OPTIONS"`

	APIKeyHeader     string   `envconfig:"API_KEY_HEADER" default:"x-api-key"`
	APIKeys          []string `envconfig:"API_KEYS"`
	AuthExemptPrefix []string `envconfig:"AUTH_EXEMPT_PREFIXES"`

	RateLimitEnabled     bool   `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitHeader      string `envconfig:"RATE_LIMIT_HEADER" default:"x-api-key"`
	RateLimitFailOpen    bool   `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	RateLimitBackend     string `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	RedisAddr            string `envconfig:"REDIS_ADDR"`
	RateLimitKeyPrefix   string `envconfig:"RATE_LIMIT_KEY_PREFIX" default:"gw-rl"`

	RateLimitPolicyKind    string  `envconfig:"RATE_LIMIT_POLICY_KIND" default:"token_bucket"`
	RateLimitCapacity      float64 `envconfig:"RATE_LIMIT_CAPACITY" default:"100"`
	RateLimitRefillPerSec  float64 `envconfig:"RATE_LIMIT_REFILL_PER_SEC" default:"10"`
	RateLimitWindowSeconds int64   `envconfig:"RATE_LIMIT_WINDOW_SECONDS" default:"60"`
	RateLimitMaxRequests   int64   `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"100"`

	// RoutesJSON and UpstreamsJSON carry the route table and upstream
	// pool configuration as JSON, since envconfig's flat struct tags
	// can't express the nested route->upstreams mapping directly.
	RoutesJSON    string `envconfig:"ROUTES_JSON" default:"[]"`
	UpstreamsJSON string `envconfig:"UPSTREAMS_JSON" default:"[]"`

	CBFailureThreshold  int           `envconfig:"CB_FAILURE_THRESHOLD" default:"5"`
	CBOpenSeconds       time.Duration `envconfig:"CB_OPEN_SECONDS" default:"30s"`
	CBHalfOpenMaxReqs   int           `envconfig:"CB_HALF_OPEN_MAX_REQUESTS" default:"1"`

	PreferLowLatency    bool `envconfig:"PREFER_LOW_LATENCY" default:"true"`
	InFlightPenalty     int  `envconfig:"IN_FLIGHT_PENALTY" default:"10"`
	FailurePenalty      int  `envconfig:"FAILURE_PENALTY" default:"50"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// EngineConfig holds the execution-engine binary's configuration.
type EngineConfig struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"exec-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8090"`

	QueueCapacity int `envconfig:"QUEUE_CAPACITY" default:"256"`
	WorkerCount   int `envconfig:"WORKER_COUNT" default:"4"`

	APIKeys []string `envconfig:"API_KEYS"`

	RateLimitBurst        int `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RateLimitPerMinute    int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`

	NetworkAllowedTenants []string `envconfig:"NETWORK_ALLOWED_TENANTS"`

	SandboxBackend string `envconfig:"SANDBOX_BACKEND" default:"process"`
	WorkDir        string `envconfig:"WORK_DIR" default:"/tmp/exec-engine"`
	CompileCacheDir string `envconfig:"COMPILE_CACHE_DIR" default:"/tmp/exec-engine-cache"`

	PersistPath string `envconfig:"PERSIST_PATH"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoadGateway reads GatewayConfig from the process environment, failing
// fast (matching the teacher's config.Load behavior) when required
// fields are missing or malformed.
func LoadGateway() (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load gateway: %w", err)
	}
	return &cfg, nil
}

// LoadEngine reads EngineConfig from the process environment.
func LoadEngine() (*EngineConfig, error) {
	var cfg EngineConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load engine: %w", err)
	}
	return &cfg, nil
}

// Routes decodes RoutesJSON into RouteSpec entries.
func (c *GatewayConfig) Routes() ([]RouteSpec, error) {
	var routes []RouteSpec
	if err := json.Unmarshal([]byte(c.RoutesJSON), &routes); err != nil {
		return nil, fmt.Errorf("config: decode ROUTES_JSON: %w", err)
	}
	return routes, nil
}

// Upstreams decodes UpstreamsJSON into UpstreamSpec entries.
func (c *GatewayConfig) Upstreams() ([]UpstreamSpec, error) {
	var upstreams []UpstreamSpec
	if err := json.Unmarshal([]byte(c.UpstreamsJSON), &upstreams); err != nil {
		return nil, fmt.Errorf("config: decode UPSTREAMS_JSON: %w", err)
	}
	return upstreams, nil
}

// TenantKeyPairs splits "tenant:key" entries (EngineConfig.APIKeys'
// format per spec.md §6) into (tenantID, key) pairs, skipping
// malformed entries.
func TenantKeyPairs(raw []string) map[string]string {
	pairs := make(map[string]string, len(raw))
	for _, entry := range raw {
		tenant, key, ok := strings.Cut(entry, ":")
		if !ok || tenant == "" || key == "" {
			continue
		}
		pairs[tenant] = key
	}
	return pairs
}
