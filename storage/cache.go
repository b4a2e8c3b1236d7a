package storage

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Cache wraps a KV with Redis-backed caching for read operations. Writes go
// to the base store first and then evict the affected cache entries.
//
// Every write bumps a per-key generation before evicting. A read only fills
// the cache for keys whose generation did not move while it was reading the
// base store, so a value read before a write never lands after its eviction.
// Generations are local to the process.
type Cache struct {
	base      KV
	redis     *redis.Client
	ttl       time.Duration
	namespace string

	mu   sync.Mutex
	gens map[string]uint64
}

// NewCache creates a caching KV wrapper using the provided Redis client and TTL.
func NewCache(base KV, client *redis.Client, namespace string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, namespace: namespace, gens: make(map[string]uint64)}
}

func (c *Cache) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out, missing := c.loadFromCache(ctx, keys)
	if len(missing) == 0 {
		return out, nil
	}
	seen := c.generations(missing)
	fetched, err := c.base.Get(ctx, missing...)
	if err != nil {
		return nil, err
	}
	for k, v := range fetched {
		out[k] = v
	}
	c.store(ctx, fetched, seen)
	return out, nil
}

func (c *Cache) Set(ctx context.Context, record map[string][]byte) error {
	if err := c.base.Set(ctx, record); err != nil {
		return err
	}
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	c.evict(ctx, keys...)
	return nil
}

func (c *Cache) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	// always read through to the base store so its CAS sees the real value
	if err := c.base.Update(ctx, key, fn); err != nil {
		return err
	}
	c.evict(ctx, key)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, keys []string) (map[string][]byte, []string) {
	out := make(map[string][]byte, len(keys))
	if c.redis == nil || c.ttl == 0 || len(keys) == 0 {
		return out, keys
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.cacheKey(k)
	}
	vals, err := c.redis.MGet(ctx, full...).Result()
	if err != nil {
		// On redis errors fall back to the backing storage without failing.
		log.WithError(err).Debug("cache read failed")
		return out, keys
	}
	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, missing
}

func (c *Cache) generations(keys []string) map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(keys))
	for _, k := range keys {
		out[k] = c.gens[k]
	}
	return out
}

// store caches the values whose generation still matches seen. mu is held
// across the check and the write so an eviction cannot slip in between.
func (c *Cache) store(ctx context.Context, record map[string][]byte, seen map[string]uint64) {
	if c.redis == nil || c.ttl == 0 || len(record) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := make(map[string][]byte, len(record))
	for k, v := range record {
		if c.gens[k] == seen[k] {
			fresh[k] = v
		}
	}
	if len(fresh) == 0 {
		return
	}
	_, err := c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range fresh {
			pipe.Set(ctx, c.cacheKey(k), v, c.ttl)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Debug("cache write failed")
	}
}

// evict runs after the base write. It bumps the generations and deletes the
// cached entries under mu.
func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.gens[k]++
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.cacheKey(k)
	}
	if err := c.redis.Del(ctx, full...).Err(); err != nil {
		log.WithError(err).WithField("keys", keys).Warn("cache eviction failed")
	}
}

func (c *Cache) cacheKey(key string) string {
	return "cache:" + c.namespace + ":" + key
}
