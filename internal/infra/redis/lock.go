package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"shop-activation/internal/domain/ports/repository"
)

var _ repository.Locker = (*RedisLocker)(nil)

// ErrLockNotAcquired means another holder kept the key for the whole wait budget.
var ErrLockNotAcquired = errors.New("redis: lock not acquired")

const lockBackoff = 50 * time.Millisecond

type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

// TryLock polls SET NX until it wins or ttl has passed. A holder keeps the key at
// most ttl, so waiting that long lets a queued activation run after the current one
// instead of failing.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	var lastErr error
	for {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			lastErr = err
		} else if ok {
			return token, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrLockNotAcquired, lastErr)
	}
	return "", ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock deletes key only if it still holds token, so an expired lock taken over
// by someone else is left alone.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
