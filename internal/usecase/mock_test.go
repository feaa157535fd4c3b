//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/infra/store/memstore"
)

// -----------------------------
// Store with fault injection
// -----------------------------

// FaultyStore wraps the in-memory store and fails selected operations on demand.
type FaultyStore struct {
	*memstore.Store

	mu             sync.Mutex
	ValidateErr    error
	MarkUsedErr    error
	PutErr         error
	ClearErr       error
	SaveAccountErr error
	ListAdminsErr  error

	Calls struct {
		MarkUsed    int
		Put         int
		Clear       int
		SaveAccount int
	}
}

var (
	_ repository.CodeStore     = (*FaultyStore)(nil)
	_ repository.LicenseStore  = (*FaultyStore)(nil)
	_ repository.UserDirectory = (*FaultyStore)(nil)
)

func NewFaultyStore() *FaultyStore {
	return &FaultyStore{Store: memstore.New()}
}

func (f *FaultyStore) Validate(ctx context.Context, code string) (*model.ActivationCode, error) {
	f.mu.Lock()
	err := f.ValidateErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Validate(ctx, code)
}

func (f *FaultyStore) MarkUsed(ctx context.Context, code, userID string, at time.Time) error {
	f.mu.Lock()
	f.Calls.MarkUsed++
	err := f.MarkUsedErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.MarkUsed(ctx, code, userID, at)
}

func (f *FaultyStore) Put(ctx context.Context, l *model.License) error {
	f.mu.Lock()
	f.Calls.Put++
	err := f.PutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Put(ctx, l)
}

func (f *FaultyStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	f.Calls.Clear++
	err := f.ClearErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Clear(ctx)
}

func (f *FaultyStore) SaveAccount(ctx context.Context, a *model.Account) error {
	f.mu.Lock()
	f.Calls.SaveAccount++
	err := f.SaveAccountErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.SaveAccount(ctx, a)
}

func (f *FaultyStore) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	f.mu.Lock()
	err := f.ListAdminsErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.ListAdmins(ctx)
}

// -----------------------------
// Locker
// -----------------------------

type MockLocker struct {
	mu      sync.Mutex
	held    map[string]string
	ErrOn   map[string]error
	Acquire int
}

var _ repository.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", errors.New("locked")
	}
	tok := uuid.NewString()
	l.held[key] = tok
	l.Acquire++
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// -----------------------------
// Helpers
// -----------------------------

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func seedCode(store repository.CodeStore, code string, typ model.CodeType, days *int) {
	ac, err := model.NewActivationCode(code, typ, days, t0.Add(-time.Hour))
	if err != nil {
		panic(err)
	}
	if err := store.Save(context.Background(), ac); err != nil {
		panic(err)
	}
}
