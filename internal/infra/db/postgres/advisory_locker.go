package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-activation/internal/domain/ports/repository"
)

var _ repository.Locker = (*AdvisoryLocker)(nil)

// ErrLockNotAcquired is returned when the advisory lock stays taken past the wait budget.
var ErrLockNotAcquired = errors.New("postgres: advisory lock not acquired")

// AdvisoryLocker serialises activation writes between processes sharing one database.
// Session-level advisory locks belong to a connection, so the conn is held until Unlock.
// The ttl is used as the wait budget; postgres releases the lock itself if the session dies.
type AdvisoryLocker struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	held map[string]*pgxpool.Conn // token -> conn
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, held: make(map[string]*pgxpool.Conn)}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: acquire conn for lock: %w", err)
	}
	deadline := time.Now().Add(ttl)
	id := hashToInt64(key)
	for {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1);`, id).Scan(&ok); err != nil {
			conn.Release()
			return "", fmt.Errorf("postgres: try advisory lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			conn.Release()
			return "", ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.held[token] = conn
	l.mu.Unlock()
	return token, nil
}

func (l *AdvisoryLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	conn, ok := l.held[token]
	delete(l.held, token)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1);`, hashToInt64(key)); err != nil {
		// The session may still hold the lock. Closing it makes postgres drop the
		// lock, and Release then discards the conn instead of pooling it.
		if cerr := conn.Conn().Close(context.Background()); cerr != nil {
			return fmt.Errorf("postgres: advisory unlock: %w (close: %v)", err, cerr)
		}
		return fmt.Errorf("postgres: advisory unlock: %w", err)
	}
	return nil
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
