package middleware

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/relaygate/core/internal/gateway/gwerr"
	"github.com/relaygate/core/internal/gateway/ratelimit"
	"github.com/relaygate/core/internal/gateway/reqctx"
	"github.com/relaygate/core/internal/platform/logging"
)

// RateLimitMiddleware is the last middleware in the fixed pipeline
// order (spec.md §4.1, §4.4). It is optional: gateways that don't
// configure rate limiting simply omit it from the Pipeline.
type RateLimitMiddleware struct {
	limiter      *ratelimit.Limiter
	policy       ratelimit.Policy
	header       string
	failOpen     bool
	logger       *logging.Logger
}

// NewRateLimit builds the rate-limit middleware.
func NewRateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy, header string, failOpen bool, logger *logging.Logger) *RateLimitMiddleware {
	if header == "" {
		header = "x-api-key"
	}
	return &RateLimitMiddleware{limiter: limiter, policy: policy, header: header, failOpen: failOpen, logger: logger}
}

// Name implements Middleware.
func (m *RateLimitMiddleware) Name() string { return "ratelimit" }

// OnRequest resolves the rate-limit key and scope per spec.md §4.4,
// then checks the configured policy against the configured backend.
func (m *RateLimitMiddleware) OnRequest(ctx context.Context, rc *reqctx.RequestContext) (ControlFlow, error) {
	key := m.resolveKey(rc)
	scope := key + ":" + rc.URI

	decision, err := m.limiter.Check(ctx, scope, m.policy, rc.RequestID)
	if err != nil {
		if m.failOpen {
			if m.logger != nil {
				logging.FromContext(ctx, m.logger).Warn("rate limit backend error, failing open",
					logging.String("error", err.Error()))
			}
			return Continue(), nil
		}
		return ControlFlow{}, gwerr.Wrap(gwerr.CodeInternal, "rate limit backend error", err)
	}

	rc.SetMeta("ratelimit.remaining", strconv.FormatUint(decision.Remaining, 10))

	if !decision.Allowed {
		return ShortCircuitWith(rateLimitedResponse(decision.RetryAfterSecs)), nil
	}
	return Continue(), nil
}

// OnResponse copies the stored remaining count onto the response
// header for allowed requests (spec.md §4.4).
func (m *RateLimitMiddleware) OnResponse(_ context.Context, rc *reqctx.RequestContext, resp *reqctx.Response) error {
	if remaining, ok := rc.Meta("ratelimit.remaining"); ok {
		resp.Headers.Set("x-ratelimit-remaining", remaining)
	}
	return nil
}

func (m *RateLimitMiddleware) resolveKey(rc *reqctx.RequestContext) string {
	if v := rc.Headers.Get(m.header); v != "" {
		return v
	}
	if rc.ClientIP != "" {
		return rc.ClientIP
	}
	return "anonymous"
}

func rateLimitedResponse(retryAfterSecs uint64) *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodeRateLimited),
		"message": "Rate limit exceeded",
	})
	resp := reqctx.JSON(gwerr.RateLimited(retryAfterSecs).Status(), body)
	resp.Headers.Set("Retry-After", strconv.FormatUint(retryAfterSecs, 10))
	return resp
}
