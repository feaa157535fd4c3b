// Package boltstore keeps codes, the license and accounts in a single bbolt file.
// Each write runs in one bolt Update transaction, which bbolt serialises.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

const FileName = "activation.db"

var (
	bucketCodes    = []byte("codes")
	bucketLicense  = []byte("license")
	bucketAccounts = []byte("accounts")

	keyCurrent = []byte("current")
)

var (
	_ repository.CodeStore     = (*Store)(nil)
	_ repository.LicenseStore  = (*Store)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

type Store struct {
	db  *bolt.DB
	log *zerolog.Logger
}

// Open opens (or creates) dir/activation.db and makes sure all buckets exist.
func Open(dir string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("boltstore: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCodes, bucketLicense, bucketAccounts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	l := logger.With().Str("component", "boltstore").Str("path", path).Logger()
	return &Store{db: db, log: &l}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Validate(_ context.Context, code string) (*model.ActivationCode, error) {
	var out *model.ActivationCode
	err := s.db.View(func(tx *bolt.Tx) error {
		c, err := getCode(tx, model.CanonicalCode(code))
		if err != nil {
			return err
		}
		if c == nil || c.Status != model.CodeStatusAvailable {
			return domain.ErrNotFound
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Store) MarkUsed(_ context.Context, code, userID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := model.CanonicalCode(code)
		c, err := getCode(tx, key)
		if err != nil {
			return err
		}
		if c == nil {
			return domain.ErrCodeNotFound
		}
		if err := c.MarkUsed(userID, at.UTC()); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketCodes), []byte(key), c)
	})
}

func (s *Store) Save(_ context.Context, code *model.ActivationCode) error {
	if code == nil || code.Code == "" {
		return domain.ErrInvalidArgument
	}
	cp := code.Clone()
	cp.Code = model.CanonicalCode(cp.Code)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCodes)
		if b.Get([]byte(cp.Code)) != nil {
			return domain.ErrCodeExists
		}
		return putJSON(b, []byte(cp.Code), cp)
	})
}

func (s *Store) List(_ context.Context) ([]*model.ActivationCode, error) {
	var out []*model.ActivationCode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCodes).ForEach(func(k, v []byte) error {
			var c model.ActivationCode
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode code %s: %w", k, err)
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	model.SortCodes(out)
	return out, nil
}

func (s *Store) GetCurrent(_ context.Context) (*model.License, error) {
	var out *model.License
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLicense).Get(keyCurrent)
		if v == nil {
			return domain.ErrNotFound
		}
		var l model.License
		if err := json.Unmarshal(v, &l); err != nil {
			return fmt.Errorf("decode license: %w", err)
		}
		out = &l
		return nil
	})
	return out, err
}

func (s *Store) Put(_ context.Context, l *model.License) error {
	if l == nil {
		return domain.ErrInvalidArgument
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketLicense), keyCurrent, l)
	})
}

func (s *Store) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLicense).Delete(keyCurrent)
	})
}

func (s *Store) GetAccount(_ context.Context, id string) (*model.Account, error) {
	var out *model.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get([]byte(id))
		if v == nil {
			return domain.ErrNotFound
		}
		var a model.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("decode account %s: %w", id, err)
		}
		out = &a
		return nil
	})
	return out, err
}

func (s *Store) SaveAccount(_ context.Context, a *model.Account) error {
	if a.IsZero() {
		return domain.ErrInvalidArgument
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketAccounts), []byte(a.ID), a)
	})
}

func (s *Store) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	all, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	admins := all[:0]
	for _, a := range all {
		if a.IsAdmin() {
			admins = append(admins, a)
		}
	}
	return admins, nil
}

// ListAccounts relies on bolt's byte-ordered keys for ordering by id.
func (s *Store) ListAccounts(_ context.Context) ([]*model.Account, error) {
	var out []*model.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a model.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode account %s: %w", k, err)
			}
			out = append(out, &a)
			return nil
		})
	})
	return out, err
}

func getCode(tx *bolt.Tx, key string) (*model.ActivationCode, error) {
	v := tx.Bucket(bucketCodes).Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	var c model.ActivationCode
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, fmt.Errorf("decode code %s: %w", key, err)
	}
	return &c, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
