package embed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores vectors as JSON arrays with per-entry TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]float32)
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			continue
		}
		out[keys[i]] = vec
	}
	return out, nil
}

func (c *RedisCache) Set(ctx context.Context, entries map[string][]float32, ttl time.Duration) error {
	pipe := c.client.Pipeline()
	for key, vec := range entries {
		data, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MemoryCache is an in-process Cache for tests. TTLs are recorded but
// never expire.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]float32)}
}

func (c *MemoryCache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float32)
	for _, k := range keys {
		if vec, ok := c.entries[k]; ok {
			out[k] = vec
		}
	}
	return out, nil
}

func (c *MemoryCache) Set(ctx context.Context, entries map[string][]float32, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.entries[k] = v
	}
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
