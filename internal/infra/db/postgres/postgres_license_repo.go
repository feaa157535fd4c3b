package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

var _ repository.LicenseStore = (*licenseRepo)(nil)

// licenseRepo keeps the current license in a single row pinned to id=1.
type licenseRepo struct {
	pool *pgxpool.Pool
}

func NewLicenseRepo(pool *pgxpool.Pool) repository.LicenseStore {
	return &licenseRepo{pool: pool}
}

func (r *licenseRepo) GetCurrent(ctx context.Context) (*model.License, error) {
	const q = `SELECT user_id, type, activated_at, expires_at, code_used FROM license WHERE id = 1;`
	var (
		l   model.License
		typ string
	)
	err := pickRow(ctx, r.pool, q).Scan(&l.UserID, &typ, &l.ActivatedAt, &l.ExpiresAt, &l.CodeUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: read license: %w", err)
	}
	l.Type = model.CodeType(typ)
	l.ActivatedAt = l.ActivatedAt.UTC()
	l.ExpiresAt = utcPtr(l.ExpiresAt)
	return &l, nil
}

func (r *licenseRepo) Put(ctx context.Context, l *model.License) error {
	if l == nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO license (id, user_id, type, activated_at, expires_at, code_used)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  type = EXCLUDED.type,
  activated_at = EXCLUDED.activated_at,
  expires_at = EXCLUDED.expires_at,
  code_used = EXCLUDED.code_used;
`
	if _, err := execSQL(ctx, r.pool, q, l.UserID, string(l.Type), l.ActivatedAt.UTC(), utcPtr(l.ExpiresAt), l.CodeUsed); err != nil {
		return fmt.Errorf("postgres: put license: %w", err)
	}
	return nil
}

func (r *licenseRepo) Clear(ctx context.Context) error {
	if _, err := execSQL(ctx, r.pool, `DELETE FROM license WHERE id = 1;`); err != nil {
		return fmt.Errorf("postgres: clear license: %w", err)
	}
	return nil
}
