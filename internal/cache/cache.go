// Package cache maps request fingerprints to previously computed analysis
// results. Upstream imagery and AI calls are slow and billed per call;
// a fingerprint hit turns a repeated request into an O(1) lookup.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohans/geodiff/internal/model"
)

// Cache stores at most one result per fingerprint. A write with an existing
// fingerprint replaces the prior value and extends expiry. Expired entries
// behave as misses; a stale value is never returned.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (*model.Result, bool, error)
	Store(ctx context.Context, fingerprint string, value *model.Result, ttl time.Duration) error
}

// RedisCache is the durable implementation. Redis SET replaces the value
// and resets the TTL, which gives the one-entry-per-fingerprint invariant
// for free; expiry is handled server-side.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "geodiff:result:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (*model.Result, bool, error) {
	data, err := c.rdb.Get(ctx, c.prefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res model.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (c *RedisCache) Store(ctx context.Context, fingerprint string, value *model.Result, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+fingerprint, data, ttl).Err()
}

// MemoryCache is the in-process implementation. Expired entries are purged
// lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     *model.Result
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Lookup(_ context.Context, fingerprint string) (*model.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, fingerprint)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Store(_ context.Context, fingerprint string, value *model.Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}
