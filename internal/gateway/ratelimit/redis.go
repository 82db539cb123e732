package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// tokenBucketScript performs the token-bucket algorithm atomically,
// mirroring the in-process algorithm in memory.go but against a Redis
// hash keyed "{prefix}:{key}". ARGV: capacity, refill_per_sec, now_ms, ttl_seconds.
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last_refill = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = (now - last_refill) / 1000
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end
last_refill = now

local allowed = 0
local remaining = 0
local retry_after = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
  remaining = math.floor(tokens)
else
  retry_after = math.ceil((1 - tokens) / refill)
  if retry_after < 1 then retry_after = 1 end
end

redis.call('HMSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(last_refill))
redis.call('EXPIRE', KEYS[1], ttl)

return {allowed, remaining, retry_after}
`

// slidingWindowScript performs the sliding-window algorithm atomically
// against a Redis sorted set keyed "{prefix}:{key}", with each member
// "{now_ms}-{request_id}" keeping concurrent inserts unique (spec.md
// §4.5, confirmed against original_source/src/ratelimit/redis_backend.rs).
// ARGV: window_seconds, max_requests, now_ms, member, ttl_seconds.
const slidingWindowScript = `
local window_seconds = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])
local window_ms = window_seconds * 1000

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window_ms)
local count = redis.call('ZCARD', KEYS[1])

local allowed = 0
local remaining = 0
local retry_after = 0
if count < max_requests then
  redis.call('ZADD', KEYS[1], now, member)
  redis.call('EXPIRE', KEYS[1], ttl)
  allowed = 1
  remaining = max_requests - count - 1
else
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local retry = window_seconds
  if oldest[2] ~= nil then
    local age_seconds = (now - tonumber(oldest[2])) / 1000
    retry = window_seconds - age_seconds
  end
  if retry < 1 then retry = 1 end
  retry_after = math.ceil(retry)
end

return {allowed, remaining, retry_after}
`

// RedisBackend is the distributed rate-limit Backend, porting the
// teacher's internal/infra/redis.RedisRateLimiter Lua-script /
// EVALSHA-with-NOSCRIPT-fallback approach to the spec's token-bucket
// and sliding-window algorithms (spec.md §4.5).
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string

	mu             sync.Mutex
	tokenBucketSHA string
	slidingWinSHA  string
}

// NewRedisBackend builds a distributed Backend over an existing
// go-redis client.
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "rl"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

// Check implements Backend.
func (b *RedisBackend) Check(ctx context.Context, key string, policy Policy, requestID string) (Decision, error) {
	switch policy.Kind {
	case TokenBucket:
		return b.checkTokenBucket(ctx, key, policy)
	case SlidingWindow:
		return b.checkSlidingWindow(ctx, key, policy, requestID)
	default:
		return Decision{}, ErrInvalidPolicy
	}
}

func (b *RedisBackend) checkTokenBucket(ctx context.Context, key string, policy Policy) (Decision, error) {
	if policy.RefillPerSec <= 0 {
		return Decision{}, ErrInvalidPolicy
	}

	ttl := int64(math.Ceil(policy.Capacity/policy.RefillPerSec)) * 2
	if ttl < 1 {
		ttl = 1
	}
	nowMs := time.Now().UnixMilli()

	res, err := b.eval(ctx, &b.tokenBucketSHA, tokenBucketScript, []string{b.fullKey(key)},
		policy.Capacity, policy.RefillPerSec, nowMs, ttl)
	if err != nil {
		return Decision{}, err
	}
	return decisionFromResult(res)
}

func (b *RedisBackend) checkSlidingWindow(ctx context.Context, key string, policy Policy, requestID string) (Decision, error) {
	ttl := policy.WindowSeconds + 1
	nowMs := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, requestID)

	res, err := b.eval(ctx, &b.slidingWinSHA, slidingWindowScript, []string{b.fullKey(key)},
		policy.WindowSeconds, policy.MaxRequests, nowMs, member, ttl)
	if err != nil {
		return Decision{}, err
	}
	return decisionFromResult(res)
}

func (b *RedisBackend) fullKey(key string) string {
	return b.keyPrefix + ":" + key
}

// eval runs the script via EVALSHA, loading (and retrying the load
// once) on a cache miss, then falling back to inline EVAL on a
// NOSCRIPT error so a Redis-side script flush never surfaces as a
// caller-visible failure.
func (b *RedisBackend) eval(ctx context.Context, shaCache *string, script string, keys []string, args ...any) ([]any, error) {
	sha, err := b.ensureScript(ctx, shaCache, script)
	if err == nil {
		res, evalErr := b.client.EvalSha(ctx, sha, keys, args...).Slice()
		if evalErr == nil {
			return res, nil
		}
		if !isNoScriptErr(evalErr) {
			return nil, evalErr
		}
		b.mu.Lock()
		*shaCache = ""
		b.mu.Unlock()
	}

	res, err := b.client.Eval(ctx, script, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	return res, nil
}

// ensureScript loads the script into Redis, retrying the SCRIPT LOAD
// round-trip once with backoff before giving up — an internal
// transport retry of a single Redis call, distinct from the
// request-level retry/backoff scheduling spec.md's Non-goals exclude.
func (b *RedisBackend) ensureScript(ctx context.Context, shaCache *string, script string) (string, error) {
	b.mu.Lock()
	if *shaCache != "" {
		sha := *shaCache
		b.mu.Unlock()
		return sha, nil
	}
	b.mu.Unlock()

	backoff := retry.WithMaxRetries(1, retry.NewConstant(10*time.Millisecond))
	var sha string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		loaded, err := b.client.ScriptLoad(ctx, script).Result()
		if err != nil {
			return retry.RetryableError(err)
		}
		sha = loaded
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ratelimit: script load: %w", err)
	}

	b.mu.Lock()
	*shaCache = sha
	b.mu.Unlock()
	return sha, nil
}

func isNoScriptErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}

func decisionFromResult(res []any) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, errors.New("ratelimit: unexpected script result shape")
	}
	allowed, _ := toInt64(res[0])
	remaining, _ := toInt64(res[1])
	retryAfter, _ := toInt64(res[2])

	d := Decision{Allowed: allowed == 1}
	if d.Allowed {
		if remaining < 0 {
			remaining = 0
		}
		d.Remaining = uint64(remaining)
	} else {
		if retryAfter < 1 {
			retryAfter = 1
		}
		d.RetryAfterSecs = uint64(retryAfter)
	}
	return d, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
