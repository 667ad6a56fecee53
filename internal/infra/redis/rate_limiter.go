package redis

import (
	"context"
	"time"
)

// RateLimiter allows at most limit hits per key within each fixed window.
type RateLimiter struct {
	client RedisClient
	limit  int64
	window time.Duration
}

func NewRateLimiter(client RedisClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(limit), window: window}
}

// Allow counts one hit for key. The caller decides what a Redis error means.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := r.client.IncrWindow(ctx, key, r.window)
	if err != nil {
		return false, err
	}
	return n <= r.limit, nil
}

// VerifyKey buckets verify calls per client address.
func VerifyKey(clientIP string) string {
	return "gym:verify:rl:" + clientIP
}
