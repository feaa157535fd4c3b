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

var _ repository.UserDirectory = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const accountColumns = `id, username, roles, trial_active, trial_start, trial_end, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a     model.Account
		roles []string
	)
	if err := row.Scan(&a.ID, &a.Username, &roles, &a.TrialActive, &a.TrialStart, &a.TrialEnd, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Roles = make([]model.Role, 0, len(roles))
	for _, r := range roles {
		a.Roles = append(a.Roles, model.Role(r))
	}
	a.TrialStart = utcPtr(a.TrialStart)
	a.TrialEnd = utcPtr(a.TrialEnd)
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (r *PostgresUserRepo) SaveAccount(ctx context.Context, a *model.Account) error {
	if a.IsZero() {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO accounts (id, username, roles, trial_active, trial_start, trial_end, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  username = EXCLUDED.username,
  roles = EXCLUDED.roles,
  trial_active = EXCLUDED.trial_active,
  trial_start = EXCLUDED.trial_start,
  trial_end = EXCLUDED.trial_end,
  updated_at = EXCLUDED.updated_at;
`
	roles := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		roles = append(roles, string(role))
	}
	_, err := execSQL(ctx, r.pool, q, a.ID, a.Username, roles, a.TrialActive, utcPtr(a.TrialStart), utcPtr(a.TrialEnd), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: save account %s: %w", a.ID, err)
	}
	return nil
}

func (r *PostgresUserRepo) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1;`
	a, err := scanAccount(pickRow(ctx, r.pool, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

func (r *PostgresUserRepo) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE 'admin' = ANY(roles) ORDER BY id;`)
}

func (r *PostgresUserRepo) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id;`)
}

func (r *PostgresUserRepo) list(ctx context.Context, q string) ([]*model.Account, error) {
	rows, err := getExecutor(ctx, r.pool).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
