// Package memstore keeps codes, the license and accounts in process memory.
// It backs the "memory" storage driver and the use case tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

var (
	_ repository.CodeStore     = (*Store)(nil)
	_ repository.LicenseStore  = (*Store)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

type Store struct {
	mu       sync.RWMutex
	codes    map[string]*model.ActivationCode
	license  *model.License
	accounts map[string]*model.Account
}

func New() *Store {
	return &Store{
		codes:    make(map[string]*model.ActivationCode),
		accounts: make(map[string]*model.Account),
	}
}

func (s *Store) Validate(_ context.Context, code string) (*model.ActivationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[model.CanonicalCode(code)]
	if !ok || c.Status != model.CodeStatusAvailable {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) MarkUsed(_ context.Context, code, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[model.CanonicalCode(code)]
	if !ok {
		return domain.ErrCodeNotFound
	}
	return c.MarkUsed(userID, at)
}

func (s *Store) Save(_ context.Context, code *model.ActivationCode) error {
	if code == nil || code.Code == "" {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.CanonicalCode(code.Code)
	if _, ok := s.codes[key]; ok {
		return domain.ErrCodeExists
	}
	cp := code.Clone()
	cp.Code = key
	s.codes[key] = cp
	return nil
}

func (s *Store) List(_ context.Context) ([]*model.ActivationCode, error) {
	s.mu.RLock()
	out := make([]*model.ActivationCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	model.SortCodes(out)
	return out, nil
}

func (s *Store) GetCurrent(_ context.Context) (*model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.license == nil {
		return nil, domain.ErrNotFound
	}
	return s.license.Clone(), nil
}

func (s *Store) Put(_ context.Context, l *model.License) error {
	if l == nil {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	s.license = l.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	s.license = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, a *model.Account) error {
	if a.IsZero() {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	s.accounts[a.ID] = a.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	all, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.IsAdmin() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*model.Account, error) {
	s.mu.RLock()
	out := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()
	model.SortAccounts(out)
	return out, nil
}
