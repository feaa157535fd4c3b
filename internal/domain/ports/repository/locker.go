package repository

import (
	"context"
	"time"
)

// Locker serialises activation writes across processes sharing the same stores.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
