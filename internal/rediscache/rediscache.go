// Package rediscache implements the response cache in front of provider
// metadata and search calls, distinct from C2's persistent JSON mapping
// store. Grounded directly on the teacher's SquidService cache idiom
// (squid_metadata.go, squid_search.go): a string key, JSON-marshaled value,
// checked before the expensive call and populated after it, with a fixed
// per-kind TTL (24h for metadata/search, matching the teacher's).
package rediscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MetadataTTL = 24 * time.Hour
	SearchTTL   = 1 * time.Hour
)

// Cache wraps a redis client with JSON get/set helpers. A nil *Cache (no
// redis configured) degrades to always-miss, always-no-op: callers never
// need to check for nil themselves.
type Cache struct {
	client *redis.Client
}

// New builds a Cache over addr, or returns nil if addr is empty (caching
// disabled).
func New(addr string) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Get decodes the JSON value stored at key into dest, reporting whether it
// was found. A decode failure is treated as a miss, not an error: a stale
// or corrupted cache entry should never block the caller from refetching.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		slog.Debug("rediscache: discarding undecodable entry", "key", key, "error", err)
		return false
	}
	return true
}

// Set marshals value to JSON and stores it at key with the given TTL,
// logging but not failing the caller on a write error.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Debug("rediscache: set failed", "key", key, "error", err)
	}
}
