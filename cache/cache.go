// Package cache wraps Redis as a best-effort acceleration layer. Every
// method degrades to its "miss" return value on any Redis error instead of
// propagating it: the cache is never allowed to become a correctness
// dependency for the storage it sits in front of.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimbusid/authgateway/pkg/log"
)

// Config holds the Redis connection parameters read from the environment.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// Cache is a thin, best-effort wrapper around a redis.Client.
type Cache struct {
	rdb    *redis.Client
	logger log.Logger
}

// New builds a Cache without blocking on connectivity; a Redis outage at
// startup does not prevent the gateway from serving traffic.
func New(cfg Config, logger log.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Cache{rdb: rdb, logger: logger}
}

// HealthCheck pings Redis; callers use this for the /health endpoint's
// "degraded" flag, never to gate request handling.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) warn(op string, err error) {
	c.logger.WithField("op", op).WithField("error", err.Error()).Warn("cache operation degraded, falling through to storage")
}

// GetClient returns the cached client's secret-free projection, and false
// on a cache miss or any Redis error.
func (c *Cache) GetClient(ctx context.Context, clientID string) (string, bool) {
	v, err := c.rdb.Get(ctx, clientKey(clientID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.warn("get_client", err)
		}
		return "", false
	}
	return v, true
}

// SetClient caches a client's JSON projection for ttl. Errors are logged
// and swallowed.
func (c *Cache) SetClient(ctx context.Context, clientID, payload string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, clientKey(clientID), payload, ttl).Err(); err != nil {
		c.warn("set_client", err)
	}
}

func (c *Cache) InvalidateClient(ctx context.Context, clientID string) {
	if err := c.rdb.Del(ctx, clientKey(clientID)).Err(); err != nil {
		c.warn("invalidate_client", err)
	}
}

// ConsumeOnce atomically gets and deletes key (GETDEL), implementing
// single-use semantics for CSRF/state tokens entirely in Redis, with
// storage.ConsumeAuthCode remaining the source of truth for authorization
// codes themselves. ok is false on any Redis error, including a miss.
func (c *Cache) ConsumeOnce(ctx context.Context, key string) (value string, ok bool) {
	v, err := c.rdb.GetDel(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.warn("consume_once", err)
		}
		return "", false
	}
	return v, true
}

// PutOnce stores a single-use value with a TTL, used for CSRF/state tokens
// bound to an in-flight authorization request.
func (c *Cache) PutOnce(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.warn("put_once", err)
		return false
	}
	return true
}

// InvalidateIntrospection drops a cached introspection result, called when
// a token is revoked so a stale "active: true" is never served from cache.
func (c *Cache) InvalidateIntrospection(ctx context.Context, tokenHash string) {
	if err := c.rdb.Del(ctx, introspectKey(tokenHash)).Err(); err != nil {
		c.warn("invalidate_introspection", err)
	}
}

func (c *Cache) GetIntrospection(ctx context.Context, tokenHash string) (string, bool) {
	v, err := c.rdb.Get(ctx, introspectKey(tokenHash)).Result()
	if err != nil {
		if err != redis.Nil {
			c.warn("get_introspection", err)
		}
		return "", false
	}
	return v, true
}

func (c *Cache) SetIntrospection(ctx context.Context, tokenHash, payload string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, introspectKey(tokenHash), payload, ttl).Err(); err != nil {
		c.warn("set_introspection", err)
	}
}

func clientKey(id string) string       { return "authgateway:client:" + id }
func introspectKey(hash string) string { return "authgateway:introspect:" + hash }
