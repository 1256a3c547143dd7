package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CountCache stores per-team vector counts for a bounded time.
type CountCache interface {
	// Get returns the cached count and whether it was present.
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// IncrIfExists adjusts a cached count in place and never creates a missing key.
	IncrIfExists(ctx context.Context, key string, delta int64) error
	Delete(ctx context.Context, key string) error
}

func teamCountKey(teamID string) string {
	return "vector:count:team:" + teamID
}

// incrIfExistsScript keeps INCRBY from materializing a key with a partial count.
var incrIfExistsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("INCRBY", KEYS[1], ARGV[1])
end
return nil
`)

// RedisCountCache keeps counts in Redis so every process shares them.
type RedisCountCache struct {
	client *redis.Client
}

// NewRedisCountCache connects to Redis and verifies the connection.
func NewRedisCountCache(ctx context.Context, opts *redis.Options) (*RedisCountCache, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCountCache{client: client}, nil
}

func (c *RedisCountCache) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *RedisCountCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCountCache) IncrIfExists(ctx context.Context, key string, delta int64) error {
	err := incrIfExistsScript.Run(ctx, c.client, []string{key}, delta).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (c *RedisCountCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCountCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryCountCache is a process-local CountCache.
type MemoryCountCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCountCache creates an empty process-local cache.
func NewMemoryCountCache() *MemoryCountCache {
	return &MemoryCountCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCountCache) Get(ctx context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	return e.value, ok, nil
}

func (c *MemoryCountCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCountCache) IncrIfExists(ctx context.Context, key string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live(key); ok {
		e.value += delta
		c.entries[key] = e
	}
	return nil
}

func (c *MemoryCountCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// live must be called with mu held.
func (c *MemoryCountCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
