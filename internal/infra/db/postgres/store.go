// Package postgres backs the code ledger, the license and the account directory with
// PostgreSQL through pgx.
package postgres

import (
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-activation/internal/domain/ports/repository"
)

// Store serves all three ports from one pool.
type Store struct {
	repository.CodeStore
	repository.LicenseStore
	*PostgresUserRepo

	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		CodeStore:        NewActivationCodeRepo(pool),
		LicenseStore:     NewLicenseRepo(pool),
		PostgresUserRepo: NewPostgresUserRepo(pool),
		pool:             pool,
	}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
