package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/infra/logging"
	"shop-activation/internal/infra/metrics"
)

// Compile-time check
var _ ActivationUseCase = (*activationUC)(nil)

// ActivationUseCase redeems activation codes into the administrator license and
// tracks the license lifecycle through to demotion.
type ActivationUseCase interface {
	ValidateCode(ctx context.Context, code string) (*CodeInfo, error)
	Activate(ctx context.Context, code, userID string) (*model.License, error)
	// GetCurrentLicense returns nil, nil when no license exists.
	GetCurrentLicense(ctx context.Context) (*model.License, error)
	RemainingDays(ctx context.Context) (int, error)
	IsExpiring(ctx context.Context) (bool, error)
	IsExpired(ctx context.Context) (bool, error)
	// Demote reports false when there is no expired license to demote.
	Demote(ctx context.Context) (bool, error)
	HasAnyAdmin(ctx context.Context) (bool, error)
	Status(ctx context.Context) (*LicenseStatus, error)
}

type LicenseState string

const (
	StateNoAdmin        LicenseState = "no_admin"
	StateTrialAdmin     LicenseState = "trial_admin"
	StatePermanentAdmin LicenseState = "permanent_admin"
	StateExpiredTrial   LicenseState = "expired_trial"
)

// CodeInfo is the preview of a code shown before it is committed.
type CodeInfo struct {
	Code         string         `json:"code"`
	Type         model.CodeType `json:"type"`
	DurationDays int            `json:"duration_days,omitempty"`
}

// LicenseStatus is a consistent snapshot of the license and its derived flags.
type LicenseStatus struct {
	State         LicenseState   `json:"state"`
	License       *model.License `json:"license,omitempty"`
	RemainingDays int            `json:"remaining_days"`
	Expiring      bool           `json:"expiring"`
	Expired       bool           `json:"expired"`
	HasAdmin      bool           `json:"has_admin"`
}

type ActivationConfig struct {
	DefaultTrialDays    int
	WarningDays         int
	AllowMultipleAdmins bool
	LockKey             string
	LockTTL             time.Duration
}

func (c ActivationConfig) withDefaults() ActivationConfig {
	if c.DefaultTrialDays <= 0 {
		c.DefaultTrialDays = 14
	}
	if c.WarningDays <= 0 {
		c.WarningDays = 1
	}
	if c.LockKey == "" {
		c.LockKey = "activation:lock"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

type ActivationOption func(*activationUC)

// WithLocker adds a cross-process lock around every license write.
func WithLocker(l repository.Locker) ActivationOption {
	return func(uc *activationUC) { uc.locker = l }
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) ActivationOption {
	return func(uc *activationUC) { uc.clock = c }
}

type activationUC struct {
	codes    repository.CodeStore
	licenses repository.LicenseStore
	users    repository.UserDirectory
	locker   repository.Locker
	clock    clockwork.Clock
	cfg      ActivationConfig
	log      *zerolog.Logger

	// mu is held for writing across MarkUsed, license Put and the role write,
	// and for reading by every query, so readers never see half an activation.
	mu sync.RWMutex
}

func NewActivationUseCase(
	codes repository.CodeStore,
	licenses repository.LicenseStore,
	users repository.UserDirectory,
	cfg ActivationConfig,
	logger *zerolog.Logger,
	opts ...ActivationOption,
) *activationUC {
	l := logger.With().Str("component", "ActivationUseCase").Logger()
	uc := &activationUC{
		codes:    codes,
		licenses: licenses,
		users:    users,
		clock:    clockwork.NewRealClock(),
		cfg:      cfg.withDefaults(),
		log:      &l,
	}
	for _, o := range opts {
		o(uc)
	}
	return uc
}

func (uc *activationUC) ValidateCode(ctx context.Context, code string) (*CodeInfo, error) {
	canonical := model.CanonicalCode(code)
	if canonical == "" {
		return nil, domain.ErrInvalidCode
	}
	ac, err := uc.codes.Validate(ctx, canonical)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, &domain.PersistenceError{Store: "codes", Op: "validate", Code: canonical, Err: err}
	}
	if !ac.Redeemable(uc.clock.Now()) {
		return nil, domain.ErrInvalidCode
	}
	return &CodeInfo{
		Code:         ac.Code,
		Type:         ac.Type,
		DurationDays: ac.EffectiveDurationDays(uc.cfg.DefaultTrialDays),
	}, nil
}

func (uc *activationUC) Activate(ctx context.Context, code, userID string) (*model.License, error) {
	defer logging.TraceDuration(uc.log, "ActivationUC.Activate")()

	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	canonical := model.CanonicalCode(code)
	log := uc.log.With().Str("user_id", userID).Str("code", logging.Redact(canonical, false)).Logger()

	release, err := uc.lockWrite(ctx)
	if err != nil {
		metrics.IncActivation("error")
		return nil, err
	}
	defer release()

	lic, err := uc.activateLocked(ctx, canonical, userID, &log)
	switch {
	case err == nil:
		metrics.IncActivation("success")
		log.Info().Str("type", string(lic.Type)).Msg("activation succeeded")
	case errors.Is(err, domain.ErrInvalidCode):
		metrics.IncActivation("invalid_code")
		log.Info().Msg("activation rejected: invalid code")
	case errors.Is(err, domain.ErrAdminAlreadyExists):
		metrics.IncActivation("admin_exists")
		log.Info().Msg("activation rejected: administrator already exists")
	default:
		metrics.IncActivation("error")
	}
	return lic, err
}

func (uc *activationUC) activateLocked(ctx context.Context, canonical, userID string, log *zerolog.Logger) (*model.License, error) {
	now := uc.clock.Now()

	current, err := uc.currentLicense(ctx)
	if err != nil {
		return nil, err
	}
	// An expired trial is resolved before anything else looks at admin cardinality.
	if current != nil && current.IsExpired(now) {
		if _, err := uc.demoteLocked(ctx, current, now); err != nil {
			return nil, err
		}
		current = nil
	}

	if !uc.cfg.AllowMultipleAdmins {
		admins, err := uc.users.ListAdmins(ctx)
		if err != nil {
			return nil, &domain.PersistenceError{Store: "accounts", Op: "list_admins", Code: canonical, UserID: userID, Err: err}
		}
		for _, a := range admins {
			if a.ID != userID {
				return nil, domain.ErrAdminAlreadyExists
			}
		}
	}

	if canonical == "" {
		return nil, domain.ErrInvalidCode
	}
	ac, err := uc.codes.Validate(ctx, canonical)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, &domain.PersistenceError{Store: "codes", Op: "validate", Code: canonical, UserID: userID, Err: err}
	}
	if !ac.Redeemable(now) {
		return nil, domain.ErrInvalidCode
	}
	lic, err := model.NewLicense(userID, ac, uc.cfg.DefaultTrialDays, now)
	if err != nil {
		return nil, domain.ErrInvalidCode
	}

	// Last point at which cancellation leaves nothing behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wctx := context.WithoutCancel(ctx)

	if err := uc.codes.MarkUsed(wctx, canonical, userID, now); err != nil {
		if errors.Is(err, domain.ErrCodeAlreadyUsed) || errors.Is(err, domain.ErrCodeNotFound) {
			return nil, domain.ErrInvalidCode
		}
		metrics.IncStoreError("codes", "mark_used")
		log.Error().Err(err).Msg("marking code used failed; nothing was applied")
		return nil, &domain.PersistenceError{Store: "codes", Op: "mark_used", Code: canonical, UserID: userID, Err: err}
	}

	if err := uc.licenses.Put(wctx, lic); err != nil {
		metrics.IncStoreError("license", "put")
		log.Error().Err(err).Str("code_full", canonical).
			Msg("code marked used but license not written; manual reconciliation required")
		return nil, &domain.PersistenceError{Store: "license", Op: "put", Code: canonical, UserID: userID, Err: err}
	}

	if err := uc.projectOnto(wctx, lic, userID, now); err != nil {
		metrics.IncStoreError("accounts", "save")
		log.Error().Err(err).Str("code_full", canonical).
			Msg("license written but admin role not granted; restoring previous license")
		uc.restoreLicense(wctx, current, log)
		return nil, &domain.PersistenceError{Store: "accounts", Op: "save", Code: canonical, UserID: userID, Err: err}
	}
	return lic.Clone(), nil
}

// projectOnto grants admin to userID and writes the trial mirror of lic onto every
// admin account, since all of them hold their role through this one license.
func (uc *activationUC) projectOnto(ctx context.Context, lic *model.License, userID string, now time.Time) error {
	acc, err := uc.users.GetAccount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		acc, err = model.NewAccount(userID, "")
	}
	if err != nil {
		return err
	}
	acc.GrantAdmin()
	acc.ProjectLicense(lic)
	acc.UpdatedAt = now
	if err := uc.users.SaveAccount(ctx, acc); err != nil {
		return err
	}
	if !uc.cfg.AllowMultipleAdmins {
		return nil
	}
	admins, err := uc.users.ListAdmins(ctx)
	if err != nil {
		return err
	}
	for _, a := range admins {
		if a.ID == userID {
			continue
		}
		a.ProjectLicense(lic)
		a.UpdatedAt = now
		if err := uc.users.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// restoreLicense is a best-effort rollback of the license record only.
// The code stays used: un-using a code is never attempted.
func (uc *activationUC) restoreLicense(ctx context.Context, prev *model.License, log *zerolog.Logger) {
	var err error
	if prev == nil {
		err = uc.licenses.Clear(ctx)
	} else {
		err = uc.licenses.Put(ctx, prev)
	}
	if err != nil {
		log.Error().Err(err).Msg("restoring previous license failed")
	}
}

func (uc *activationUC) GetCurrentLicense(ctx context.Context) (*model.License, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.currentLicense(ctx)
}

func (uc *activationUC) RemainingDays(ctx context.Context) (int, error) {
	lic, err := uc.GetCurrentLicense(ctx)
	if err != nil || lic == nil {
		return 0, err
	}
	return lic.RemainingDays(uc.clock.Now()), nil
}

func (uc *activationUC) IsExpiring(ctx context.Context) (bool, error) {
	lic, err := uc.GetCurrentLicense(ctx)
	if err != nil || lic == nil {
		return false, err
	}
	return lic.IsExpiring(uc.clock.Now(), uc.cfg.WarningDays), nil
}

func (uc *activationUC) IsExpired(ctx context.Context) (bool, error) {
	lic, err := uc.GetCurrentLicense(ctx)
	if err != nil || lic == nil {
		return false, err
	}
	return lic.IsExpired(uc.clock.Now()), nil
}

func (uc *activationUC) HasAnyAdmin(ctx context.Context) (bool, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	admins, err := uc.users.ListAdmins(ctx)
	if err != nil {
		return false, &domain.PersistenceError{Store: "accounts", Op: "list_admins", Err: err}
	}
	return len(admins) > 0, nil
}

func (uc *activationUC) Status(ctx context.Context) (*LicenseStatus, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	lic, err := uc.currentLicense(ctx)
	if err != nil {
		return nil, err
	}
	admins, err := uc.users.ListAdmins(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Store: "accounts", Op: "list_admins", Err: err}
	}
	st := &LicenseStatus{State: StateNoAdmin, License: lic, HasAdmin: len(admins) > 0}
	if lic == nil {
		return st, nil
	}
	now := uc.clock.Now()
	st.RemainingDays = lic.RemainingDays(now)
	st.Expiring = lic.IsExpiring(now, uc.cfg.WarningDays)
	st.Expired = lic.IsExpired(now)
	switch {
	case st.Expired:
		st.State = StateExpiredTrial
	case lic.IsPermanent():
		st.State = StatePermanentAdmin
	default:
		st.State = StateTrialAdmin
	}
	return st, nil
}

func (uc *activationUC) Demote(ctx context.Context) (bool, error) {
	release, err := uc.lockWrite(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	lic, err := uc.currentLicense(ctx)
	if err != nil || lic == nil {
		return false, err
	}
	now := uc.clock.Now()
	if !lic.IsExpired(now) {
		return false, nil
	}
	return uc.demoteLocked(context.WithoutCancel(ctx), lic, now)
}

func (uc *activationUC) demoteLocked(ctx context.Context, lic *model.License, now time.Time) (bool, error) {
	log := uc.log.With().Str("user_id", lic.UserID).Str("code", logging.Redact(lic.CodeUsed, false)).Logger()

	if err := uc.licenses.Clear(ctx); err != nil {
		metrics.IncStoreError("license", "clear")
		log.Error().Err(err).Msg("clearing expired license failed")
		return false, &domain.PersistenceError{Store: "license", Op: "clear", Code: lic.CodeUsed, UserID: lic.UserID, Err: err}
	}

	admins, err := uc.users.ListAdmins(ctx)
	if err != nil {
		log.Error().Err(err).Msg("license cleared but admin list unavailable; roles not revoked")
		return false, &domain.PersistenceError{Store: "accounts", Op: "list_admins", Code: lic.CodeUsed, UserID: lic.UserID, Err: err}
	}
	seen := false
	for _, a := range admins {
		seen = seen || a.ID == lic.UserID
		if err := uc.revoke(ctx, a, now); err != nil {
			log.Error().Err(err).Str("account", a.ID).Msg("license cleared but admin role not revoked")
			return false, &domain.PersistenceError{Store: "accounts", Op: "save", Code: lic.CodeUsed, UserID: a.ID, Err: err}
		}
	}
	// The owner may have lost the role already; the trial mirror still needs clearing.
	if !seen {
		if acc, err := uc.users.GetAccount(ctx, lic.UserID); err == nil {
			if err := uc.revoke(ctx, acc, now); err != nil {
				log.Warn().Err(err).Msg("clearing trial mirror on license owner failed")
			}
		}
	}

	metrics.IncDemotion()
	log.Info().Time("expired_at", *lic.ExpiresAt).Msg("trial expired; administrator demoted")
	return true, nil
}

func (uc *activationUC) revoke(ctx context.Context, a *model.Account, now time.Time) error {
	a.RevokeAdmin()
	a.ClearTrial()
	a.UpdatedAt = now
	return uc.users.SaveAccount(ctx, a)
}

func (uc *activationUC) currentLicense(ctx context.Context) (*model.License, error) {
	lic, err := uc.licenses.GetCurrent(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Store: "license", Op: "get", Err: err}
	}
	return lic, nil
}

// lockWrite takes the in-process write lock and, when configured, the shared lock.
func (uc *activationUC) lockWrite(ctx context.Context) (func(), error) {
	uc.mu.Lock()
	if uc.locker == nil {
		return uc.mu.Unlock, nil
	}
	token, err := uc.locker.TryLock(ctx, uc.cfg.LockKey, uc.cfg.LockTTL)
	if err != nil {
		uc.mu.Unlock()
		return nil, &domain.PersistenceError{Store: "lock", Op: "acquire", Err: fmt.Errorf("acquire %s: %w", uc.cfg.LockKey, err)}
	}
	return func() {
		if err := uc.locker.Unlock(context.Background(), uc.cfg.LockKey, token); err != nil {
			uc.log.Warn().Err(err).Msg("releasing activation lock failed")
		}
		uc.mu.Unlock()
	}, nil
}
