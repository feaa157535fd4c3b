// Package sqlitestore keeps codes, the license and accounts in an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

const FileName = "activation.sqlite"

var (
	_ repository.CodeStore     = (*Store)(nil)
	_ repository.LicenseStore  = (*Store)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

type Store struct {
	db  *sql.DB
	log *zerolog.Logger
}

// Open opens (or creates) dir/activation.sqlite and applies the schema.
func Open(dir string, logger *zerolog.Logger) (*Store, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("sqlitestore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlitestore: create %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, FileName)
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(FULL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := logger.With().Str("component", "sqlitestore").Str("path", dbPath).Logger()
	s := &Store{db: db, log: &l}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close db after schema init failure: %w", closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activation_codes (
		code TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		duration_days INTEGER,
		status TEXT NOT NULL DEFAULT 'available',
		used_by TEXT,
		used_at INTEGER,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		note TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS license (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		activated_at INTEGER NOT NULL,
		expires_at INTEGER,
		code_used TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		roles TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		trial_active INTEGER NOT NULL DEFAULT 0,
		trial_start INTEGER,
		trial_end INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_is_admin ON accounts(is_admin);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return nil
}

const codeColumns = `code, type, duration_days, status, used_by, used_at, created_at, expires_at, note`

func (s *Store) Validate(ctx context.Context, code string) (*model.ActivationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM activation_codes WHERE code = ? AND status = 'available'`,
		model.CanonicalCode(code))
	c, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// MarkUsed is a conditional UPDATE; zero affected rows means the code was used or missing.
func (s *Store) MarkUsed(ctx context.Context, code, userID string, at time.Time) error {
	key := model.CanonicalCode(code)
	res, err := s.db.ExecContext(ctx,
		`UPDATE activation_codes SET status = 'used', used_by = ?, used_at = ?
		 WHERE code = ? AND status = 'available'`,
		userID, at.UnixNano(), key)
	if err != nil {
		return fmt.Errorf("sqlitestore: mark used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM activation_codes WHERE code = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCodeNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrCodeAlreadyUsed
}

func (s *Store) Save(ctx context.Context, c *model.ActivationCode) error {
	if c == nil || c.Code == "" {
		return domain.ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activation_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO NOTHING`,
		model.CanonicalCode(c.Code), string(c.Type), nullInt(c.DurationDays), string(c.Status),
		nullString(c.UsedBy), nullTime(c.UsedAt), c.CreatedAt.UnixNano(), nullTime(c.ExpiresAt), c.Note)
	if err != nil {
		return fmt.Errorf("sqlitestore: save code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCodeExists
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*model.ActivationCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+codeColumns+` FROM activation_codes ORDER BY created_at, code`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list codes: %w", err)
	}
	defer rows.Close()
	var out []*model.ActivationCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCurrent(ctx context.Context) (*model.License, error) {
	var (
		l           model.License
		typ         string
		activatedAt int64
		expiresAt   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, type, activated_at, expires_at, code_used FROM license WHERE id = 1`).
		Scan(&l.UserID, &typ, &activatedAt, &expiresAt, &l.CodeUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get license: %w", err)
	}
	l.Type = model.CodeType(typ)
	l.ActivatedAt = fromNanos(activatedAt)
	l.ExpiresAt = scanTime(expiresAt)
	return &l, nil
}

func (s *Store) Put(ctx context.Context, l *model.License) error {
	if l == nil {
		return domain.ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO license (id, user_id, type, activated_at, expires_at, code_used)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			type = excluded.type,
			activated_at = excluded.activated_at,
			expires_at = excluded.expires_at,
			code_used = excluded.code_used`,
		l.UserID, string(l.Type), l.ActivatedAt.UnixNano(), nullTime(l.ExpiresAt), l.CodeUsed)
	if err != nil {
		return fmt.Errorf("sqlitestore: put license: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM license`); err != nil {
		return fmt.Errorf("sqlitestore: clear license: %w", err)
	}
	return nil
}

const accountColumns = `id, username, roles, trial_active, trial_start, trial_end, updated_at`

func (s *Store) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (s *Store) SaveAccount(ctx context.Context, a *model.Account) error {
	if a.IsZero() {
		return domain.ErrInvalidArgument
	}
	roles, err := json.Marshal(a.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, roles, is_admin, trial_active, trial_start, trial_end, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			roles = excluded.roles,
			is_admin = excluded.is_admin,
			trial_active = excluded.trial_active,
			trial_start = excluded.trial_start,
			trial_end = excluded.trial_end,
			updated_at = excluded.updated_at`,
		a.ID, a.Username, string(roles), boolInt(a.IsAdmin()), boolInt(a.TrialActive),
		nullTime(a.TrialStart), nullTime(a.TrialEnd), a.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlitestore: save account: %w", err)
	}
	return nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]*model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_admin = 1 ORDER BY id`)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (s *Store) queryAccounts(ctx context.Context, query string) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list accounts: %w", err)
	}
	defer rows.Close()
	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- scanning helpers ----

type scanner interface {
	Scan(dest ...any) error
}

func scanCode(r scanner) (*model.ActivationCode, error) {
	var (
		c         model.ActivationCode
		typ       string
		status    string
		duration  sql.NullInt64
		usedBy    sql.NullString
		usedAt    sql.NullInt64
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := r.Scan(&c.Code, &typ, &duration, &status, &usedBy, &usedAt, &createdAt, &expiresAt, &c.Note); err != nil {
		return nil, err
	}
	c.Type = model.CodeType(typ)
	c.Status = model.CodeStatus(status)
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationDays = &d
	}
	if usedBy.Valid {
		u := usedBy.String
		c.UsedBy = &u
	}
	c.UsedAt = scanTime(usedAt)
	c.CreatedAt = fromNanos(createdAt)
	c.ExpiresAt = scanTime(expiresAt)
	return &c, nil
}

func scanAccount(r scanner) (*model.Account, error) {
	var (
		a           model.Account
		roles       string
		trialActive int
		trialStart  sql.NullInt64
		trialEnd    sql.NullInt64
		updatedAt   int64
	)
	if err := r.Scan(&a.ID, &a.Username, &roles, &trialActive, &trialStart, &trialEnd, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &a.Roles); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode roles of %s: %w", a.ID, err)
	}
	a.TrialActive = trialActive != 0
	a.TrialStart = scanTime(trialStart)
	a.TrialEnd = scanTime(trialEnd)
	a.UpdatedAt = fromNanos(updatedAt)
	return &a, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func scanTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
