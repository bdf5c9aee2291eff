// Package cache provides a namespaced TTL key/value cache over kv.Store.
//
// Values are serialized transparently: JSON when the value is representable
// that way, so small values stay human-inspectable in the store, and msgpack
// otherwise so complex values still round-trip. Reads probe both formats.
//
// Cache failures are never fatal. A store outage degrades every operation
// to a miss or a no-op with a debug log line; callers must treat the cache
// strictly as an optimization.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mailroom-dev/mailroom/kv"
)

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache is a namespaced TTL cache. Safe for concurrent use.
type Cache struct {
	store      kv.Store
	namespace  string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New creates a Cache. Keys are prefixed with namespace; entries stored
// without an explicit TTL expire after defaultTTL.
func New(store kv.Store, namespace string, defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get looks up key and decodes the stored value into dest, reporting
// whether it was found. On a miss, a decode failure, or a store outage,
// dest is left untouched so a caller-preset default survives.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		// Availability over strictness: an unreachable store is
		// indistinguishable from a miss to callers.
		c.logger.Debug("cache get miss", slog.String("key", key), slog.String("reason", err.Error()))
		return false
	}

	// Try JSON first, fall back to msgpack.
	if jsonErr := json.Unmarshal(data, dest); jsonErr != nil {
		if mpErr := msgpack.Unmarshal(data, dest); mpErr != nil {
			c.logger.Debug("cache decode failed",
				slog.String("key", key),
				slog.String("error", mpErr.Error()),
			)
			return false
		}
	}
	return true
}

// Set stores value at key. A zero ttl uses the cache's default. The entry
// is always replaced whole; no partial updates. Returns false on a store
// outage without raising.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := encode(value)
	if err != nil {
		c.logger.Debug("cache encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, c.key(key), data, ttl); err != nil {
		c.logger.Debug("cache set failed", slog.String("key", key), slog.String("reason", err.Error()))
		return false
	}
	return true
}

// Delete removes key, reporting whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	ok, err := c.store.Delete(ctx, c.key(key))
	if err != nil {
		c.logger.Debug("cache delete failed", slog.String("key", key), slog.String("reason", err.Error()))
		return false
	}
	return ok
}

// DeletePattern removes all namespaced keys matching a glob pattern and
// returns the number removed. Used to invalidate derived listings after a
// producer-side mutation.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int64 {
	n, err := c.store.DeletePattern(ctx, c.key(pattern))
	if err != nil {
		c.logger.Debug("cache delete pattern failed", slog.String("pattern", pattern), slog.String("reason", err.Error()))
		return 0
	}
	return n
}

// Increment atomically adds n to the counter at key, refreshing the TTL
// when nonzero, and returns the new value. Used for ephemeral statistics;
// returns 0 on a store outage.
func (c *Cache) Increment(ctx context.Context, key string, n int64, ttl time.Duration) int64 {
	v, err := c.store.IncrBy(ctx, c.key(key), n, ttl)
	if err != nil {
		c.logger.Debug("cache increment failed", slog.String("key", key), slog.String("reason", err.Error()))
		return 0
	}
	return v
}

// key returns the namespaced form of k.
func (c *Cache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// encode serializes value, preferring JSON and falling back to msgpack for
// values JSON cannot represent. The choice is made by probing, not by
// caller declaration.
func encode(value any) ([]byte, error) {
	if data, err := json.Marshal(value); err == nil {
		return data, nil
	}
	return msgpack.Marshal(value)
}
