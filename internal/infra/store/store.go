// Package store wires the configured storage driver, plus the optional redis lock
// and license cache, into the three ports the activation use case needs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"shop-activation/internal/config"
	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/infra/db/postgres"
	red "shop-activation/internal/infra/redis"
	"shop-activation/internal/infra/security"
	"shop-activation/internal/infra/store/boltstore"
	"shop-activation/internal/infra/store/filestore"
	"shop-activation/internal/infra/store/memstore"
	"shop-activation/internal/infra/store/sqlitestore"
)

// Stores is everything the activation use case and its callers persist through.
type Stores struct {
	Codes    repository.CodeStore
	Licenses repository.LicenseStore
	Users    repository.UserDirectory

	// Locker is nil for the memory and bolt drivers without redis; the
	// in-process lock is then the only guard. bolt holds its file exclusively.
	Locker  repository.Locker
	Limiter *red.RateLimiter // nil without redis
	Pool    *pgxpool.Pool    // nil unless the postgres driver is used

	closers []func() error
}

type backend interface {
	repository.CodeStore
	repository.LicenseStore
	repository.UserDirectory
}

// Open builds the stores for cfg. Callers must Close the result.
func Open(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Stores, error) {
	s := &Stores{}
	b, err := s.openBackend(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Codes, s.Licenses, s.Users = b, b, b

	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("store: connect redis: %w", err)
		}
		s.closers = append(s.closers, rc.Close)
		s.Locker = red.NewLocker(rc)
		s.Limiter = red.NewRateLimiter(rc)
		s.Licenses = red.NewLicenseCacheDecorator(b, rc, cfg.Redis.CacheTTL, logger)
		logger.Info().Msg("redis lock and license cache enabled")
	} else if s.Pool != nil {
		s.Locker = postgres.NewAdvisoryLocker(s.Pool)
		logger.Info().Msg("postgres advisory lock enabled")
	} else if d := cfg.Storage.Driver; d == "file" || d == "sqlite" {
		s.Locker = filestore.NewLocker(cfg.Storage.Dir)
		logger.Info().Str("dir", cfg.Storage.Dir).Msg("file lock enabled")
	}
	return s, nil
}

func (s *Stores) openBackend(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (backend, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "memory":
		return memstore.New(), nil
	case "file":
		var opts []filestore.Option
		if sc.Encrypt {
			enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("store: encryption: %w", err)
			}
			opts = append(opts, filestore.WithSealer(enc))
		}
		return filestore.Open(sc.Dir, logger, opts...)
	case "bolt":
		st, err := boltstore.Open(sc.Dir, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	case "sqlite":
		st, err := sqlitestore.Open(sc.Dir, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, sc.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		st := postgres.NewStore(pool)
		s.Pool = pool
		s.closers = append(s.closers, st.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", sc.Driver)
	}
}

// Close releases every opened resource, newest first.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
