package redis

import (
	"context"
	"time"
)

// RateLimiter counts hits per key in fixed windows. The window starts at the
// first hit and the key expires with it.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow records one hit on key and reports whether it is within limit.
// A non-positive limit disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	n, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			// drop the counter so a key without ttl can't lock the subject out forever
			_ = r.client.Del(ctx, key)
			return false, err
		}
	}
	return n <= int64(limit), nil
}

// ActivateKey is the limiter key for activation attempts by one API subject.
func ActivateKey(subject string) string { return "rate_limit:activate:" + subject }
