// Package filestore persists the code ledger, the current license and the account
// directory as three JSON files. Every mutation rereads the file, applies the change
// and rewrites it whole through a temp file and rename. Each file is guarded by an
// advisory file lock next to it, so several processes may share one directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

const (
	CodesFile    = "codes.json"
	LicenseFile  = "license.json"
	AccountsFile = "accounts.json"
)

var (
	_ repository.CodeStore     = (*Store)(nil)
	_ repository.LicenseStore  = (*Store)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

// Sealer encrypts the license record at rest. security.EncryptionService satisfies it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Option func(*Store)

// WithSealer stores license.json encrypted.
func WithSealer(s Sealer) Option { return func(st *Store) { st.sealer = s } }

type Store struct {
	dir    string
	sealer Sealer
	log    *zerolog.Logger

	codesLk    *fileLock
	licenseLk  *fileLock
	accountsLk *fileLock
}

const lockRetry = 10 * time.Millisecond

// fileLock guards one JSON file between goroutines (mu) and between processes
// (the flock on <file>.lock). A Flock is reentrant within its owner, so mu must be
// held before it.
type fileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

func newFileLock(path string) *fileLock { return &fileLock{fl: flock.New(path + ".lock")} }

func (l *fileLock) lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	ok, err := l.fl.TryLockContext(ctx, lockRetry)
	if err == nil && !ok {
		err = errors.New("not acquired")
	}
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("filestore: lock %s: %w", filepath.Base(l.fl.Path()), err)
	}
	return func() {
		_ = l.fl.Unlock()
		l.mu.Unlock()
	}, nil
}

// Open prepares dir (creating it if needed) and returns a store rooted there.
func Open(dir string, logger *zerolog.Logger, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: %w: empty directory", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	l := logger.With().Str("component", "filestore").Str("dir", dir).Logger()
	s := &Store{
		dir:        dir,
		log:        &l,
		codesLk:    newFileLock(filepath.Join(dir, CodesFile)),
		licenseLk:  newFileLock(filepath.Join(dir, LicenseFile)),
		accountsLk: newFileLock(filepath.Join(dir, AccountsFile)),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// ---- codes.json ----

func (s *Store) Validate(ctx context.Context, code string) (*model.ActivationCode, error) {
	unlock, err := s.codesLk.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	codes, err := s.readCodes()
	if err != nil {
		return nil, err
	}
	key := model.CanonicalCode(code)
	for _, c := range codes {
		if c.Code == key && c.Status == model.CodeStatusAvailable {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) MarkUsed(ctx context.Context, code, userID string, at time.Time) error {
	unlock, err := s.codesLk.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	codes, err := s.readCodes()
	if err != nil {
		return err
	}
	key := model.CanonicalCode(code)
	for _, c := range codes {
		if c.Code != key {
			continue
		}
		if err := c.MarkUsed(userID, at.UTC()); err != nil {
			return err
		}
		return s.writeJSON(CodesFile, codes)
	}
	return domain.ErrCodeNotFound
}

func (s *Store) Save(ctx context.Context, code *model.ActivationCode) error {
	if code == nil || code.Code == "" {
		return domain.ErrInvalidArgument
	}
	unlock, err := s.codesLk.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	codes, err := s.readCodes()
	if err != nil {
		return err
	}
	cp := code.Clone()
	cp.Code = model.CanonicalCode(cp.Code)
	for _, c := range codes {
		if c.Code == cp.Code {
			return domain.ErrCodeExists
		}
	}
	return s.writeJSON(CodesFile, append(codes, cp))
}

func (s *Store) List(ctx context.Context) ([]*model.ActivationCode, error) {
	unlock, err := s.codesLk.lock(ctx)
	if err != nil {
		return nil, err
	}
	codes, err := s.readCodes()
	unlock()
	if err != nil {
		return nil, err
	}
	model.SortCodes(codes)
	return codes, nil
}

func (s *Store) readCodes() ([]*model.ActivationCode, error) {
	var codes []*model.ActivationCode
	if err := s.readJSON(CodesFile, &codes); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return codes, nil
}

// ---- license.json ----

func (s *Store) GetCurrent(ctx context.Context) (*model.License, error) {
	unlock, err := s.licenseLk.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := os.ReadFile(s.path(LicenseFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", LicenseFile, err)
	}
	if s.sealer != nil {
		pt, err := s.sealer.Decrypt(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("filestore: unseal %s: %w", LicenseFile, err)
		}
		b = []byte(pt)
	}
	var l model.License
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", LicenseFile, err)
	}
	return &l, nil
}

func (s *Store) Put(ctx context.Context, l *model.License) error {
	if l == nil {
		return domain.ErrInvalidArgument
	}
	unlock, err := s.licenseLk.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", LicenseFile, err)
	}
	if s.sealer != nil {
		ct, err := s.sealer.Encrypt(string(b))
		if err != nil {
			return fmt.Errorf("filestore: seal %s: %w", LicenseFile, err)
		}
		b = []byte(ct)
	}
	return s.writeFile(LicenseFile, b)
}

func (s *Store) Clear(ctx context.Context) error {
	unlock, err := s.licenseLk.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	err = os.Remove(s.path(LicenseFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: remove %s: %w", LicenseFile, err)
	}
	return nil
}

// ---- accounts.json ----

func (s *Store) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	unlock, err := s.accountsLk.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	accs, err := s.readAccounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accs {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) SaveAccount(ctx context.Context, a *model.Account) error {
	if a.IsZero() {
		return domain.ErrInvalidArgument
	}
	unlock, err := s.accountsLk.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	accs, err := s.readAccounts()
	if err != nil {
		return err
	}
	cp := a.Clone()
	replaced := false
	for i, existing := range accs {
		if existing.ID == cp.ID {
			accs[i] = cp
			replaced = true
			break
		}
	}
	if !replaced {
		accs = append(accs, cp)
	}
	model.SortAccounts(accs)
	return s.writeJSON(AccountsFile, accs)
}

func (s *Store) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	accs, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	admins := accs[:0]
	for _, a := range accs {
		if a.IsAdmin() {
			admins = append(admins, a)
		}
	}
	return admins, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	unlock, err := s.accountsLk.lock(ctx)
	if err != nil {
		return nil, err
	}
	accs, err := s.readAccounts()
	unlock()
	if err != nil {
		return nil, err
	}
	model.SortAccounts(accs)
	return accs, nil
}

func (s *Store) readAccounts() ([]*model.Account, error) {
	var accs []*model.Account
	if err := s.readJSON(AccountsFile, &accs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return accs, nil
}

// ---- file helpers ----

func (s *Store) readJSON(name string, v any) error {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("filestore: read %s: %w", name, err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", name, err)
	}
	return s.writeFile(name, b)
}

// writeFile replaces name atomically: the data is synced to a temp file in the
// same directory, then renamed over the target.
func (s *Store) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("filestore: close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("filestore: replace %s: %w", name, err)
	}
	s.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("file rewritten")
	return nil
}
