package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

// Ensure implementation satisfies the interface.
var _ repository.CodeStore = (*activationCodeRepo)(nil)

const uniqueViolation = "23505"

type activationCodeRepo struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewActivationCodeRepo(pool *pgxpool.Pool) repository.CodeStore {
	return &activationCodeRepo{pool: pool, tx: NewTxManager(pool)}
}

const codeColumns = `code, type, duration_days, status, used_by, used_at, created_at, expires_at, note`

func scanCode(row pgx.Row) (*model.ActivationCode, error) {
	var (
		ac          model.ActivationCode
		typ, status string
	)
	err := row.Scan(&ac.Code, &typ, &ac.DurationDays, &status, &ac.UsedBy, &ac.UsedAt, &ac.CreatedAt, &ac.ExpiresAt, &ac.Note)
	if err != nil {
		return nil, err
	}
	ac.Type = model.CodeType(typ)
	ac.Status = model.CodeStatus(status)
	ac.CreatedAt = ac.CreatedAt.UTC()
	ac.UsedAt = utcPtr(ac.UsedAt)
	ac.ExpiresAt = utcPtr(ac.ExpiresAt)
	return &ac, nil
}

// Validate finds a single, available activation code.
func (r *activationCodeRepo) Validate(ctx context.Context, code string) (*model.ActivationCode, error) {
	q := `SELECT ` + codeColumns + ` FROM activation_codes WHERE code = $1 AND status = 'available';`
	ac, err := scanCode(pickRow(ctx, r.pool, q, model.CanonicalCode(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: validate code: %w", err)
	}
	return ac, nil
}

// MarkUsed locks the row so concurrent redemptions of the same code serialise on it.
func (r *activationCodeRepo) MarkUsed(ctx context.Context, code, userID string, at time.Time) error {
	key := model.CanonicalCode(code)
	return r.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		ctx = withTx(ctx, tx)
		var status string
		err := pickRow(ctx, r.pool, `SELECT status FROM activation_codes WHERE code = $1 FOR UPDATE;`, key).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrCodeNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: lock code: %w", err)
		}
		if model.CodeStatus(status) == model.CodeStatusUsed {
			return domain.ErrCodeAlreadyUsed
		}
		_, err = execSQL(ctx, r.pool, `
UPDATE activation_codes
   SET status = 'used', used_by = $2, used_at = $3
 WHERE code = $1;`, key, userID, at.UTC())
		if err != nil {
			return fmt.Errorf("postgres: mark code used: %w", err)
		}
		return nil
	})
}

func (r *activationCodeRepo) Save(ctx context.Context, code *model.ActivationCode) error {
	if code == nil || code.Code == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO activation_codes (code, type, duration_days, status, used_by, used_at, created_at, expires_at, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (code) DO NOTHING;
`
	tag, err := execSQL(ctx, r.pool, q,
		model.CanonicalCode(code.Code), string(code.Type), code.DurationDays, string(code.Status),
		code.UsedBy, code.UsedAt, code.CreatedAt.UTC(), code.ExpiresAt, code.Note,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrCodeExists
		}
		return fmt.Errorf("postgres: save code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCodeExists
	}
	return nil
}

func (r *activationCodeRepo) List(ctx context.Context) ([]*model.ActivationCode, error) {
	q := `SELECT ` + codeColumns + ` FROM activation_codes ORDER BY created_at, code;`
	rows, err := getExecutor(ctx, r.pool).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list codes: %w", err)
	}
	defer rows.Close()

	var out []*model.ActivationCode
	for rows.Next() {
		ac, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan code: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
