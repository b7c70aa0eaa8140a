package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RouteLimit is a token bucket capacity and refill window for one logical
// route, keyed per caller principal (client id, else subject, else IP).
type RouteLimit struct {
	Name     string
	Capacity int
	Window   time.Duration
}

// tokenBucketScript performs the refill-then-take in a single round trip
// so concurrent requests against the same key never race.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local delta = now - ts
if delta < 0 then delta = 0 end

local refill = (delta * capacity) / window
tokens = math.min(capacity, tokens + refill)
ts = now

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, window)

return allowed
`)

// RateLimiter enforces per-principal token buckets in Redis, falling back
// to an in-process limiter, shared across all callers on this instance,
// whenever Redis is unreachable — fail-open to a coarser local limit
// instead of fail-open to unlimited traffic.
type RateLimiter struct {
	rdb *redis.Client

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func NewRateLimiter(c *Cache) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, fallback: map[string]*rate.Limiter{}}
}

// Allow reports whether the caller identified by principal may proceed
// under limit.
func (r *RateLimiter) Allow(ctx context.Context, limit RouteLimit, principal string) bool {
	key := "authgateway:rl:" + limit.Name + ":" + principal
	now := time.Now().UnixMilli()

	res, err := tokenBucketScript.Run(ctx, r.rdb, []string{key}, now, limit.Capacity, limit.Window.Milliseconds()).Result()
	if err != nil {
		return r.allowLocal(limit, principal)
	}
	allowed, ok := res.(int64)
	if !ok {
		return r.allowLocal(limit, principal)
	}
	return allowed == 1
}

func (r *RateLimiter) allowLocal(limit RouteLimit, principal string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := limit.Name + ":" + principal
	l, ok := r.fallback[key]
	if !ok {
		perSecond := float64(limit.Capacity) / limit.Window.Seconds()
		l = rate.NewLimiter(rate.Limit(perSecond), limit.Capacity)
		r.fallback[key] = l
	}
	return l.Allow()
}
