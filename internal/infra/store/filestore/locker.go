package filestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"shop-activation/internal/domain/ports/repository"
)

var _ repository.Locker = (*Locker)(nil)

// ErrLockNotAcquired is returned when the lock file stays taken past the wait budget.
var ErrLockNotAcquired = errors.New("filestore: lock not acquired")

// Locker serialises activation writes between processes sharing a data directory.
// Each key maps to a lock file in dir. The ttl is the wait budget; the OS drops the
// lock when the holding process exits.
type Locker struct {
	dir string

	mu   sync.Mutex
	held map[string]*flock.Flock // token -> lock
}

func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, held: make(map[string]*flock.Flock)}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	fl := flock.New(filepath.Join(l.dir, lockFileName(key)))

	wctx := ctx
	if ttl > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}
	ok, err := fl.TryLockContext(wctx, lockRetry)
	if err != nil || !ok {
		_ = fl.Close()
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err == nil, errors.Is(err, context.DeadlineExceeded):
			return "", ErrLockNotAcquired
		default:
			return "", fmt.Errorf("filestore: lock %s: %w", key, err)
		}
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.held[token] = fl
	l.mu.Unlock()
	return token, nil
}

func (l *Locker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	fl, ok := l.held[token]
	delete(l.held, token)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("filestore: unlock %s: %w", key, err)
	}
	return nil
}

// lockFileName turns a lock key such as "activation:lock" into a safe file name.
func lockFileName(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, key)
	return "." + safe + ".lock"
}
