package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	red "gym-membership/internal/infra/redis"
)

// memCache is an in-memory red.RedisClient holding string values.
type memCache struct {
	mu   sync.Mutex
	vals map[string]string
}

var _ red.RedisClient = (*memCache)(nil)

func newMemCache() *memCache { return &memCache{vals: map[string]string{}} }

func (c *memCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	if !ok {
		return "", red.Nil
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.vals[key] = string(v)
	default:
		c.vals[key] = fmt.Sprint(v)
	}
	return nil
}

func (c *memCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.vals, k)
	}
	return nil
}

func (c *memCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, fmt.Errorf("memCache: IncrWindow not supported")
}
func (c *memCache) Ping(ctx context.Context) error { return nil }
func (c *memCache) Close() error                   { return nil }
