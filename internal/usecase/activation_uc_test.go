//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/usecase"
)

const day = 24 * time.Hour

func newEngine(store *FaultyStore, clock clockwork.Clock, cfg usecase.ActivationConfig, opts ...usecase.ActivationOption) usecase.ActivationUseCase {
	opts = append([]usecase.ActivationOption{usecase.WithClock(clock)}, opts...)
	return usecase.NewActivationUseCase(store, store, store, cfg, newTestLogger(), opts...)
}

func TestActivationUseCase_TrialScenario(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "TRIAL-ABC", model.CodeTypeTrial, intPtr(14))
	uc := newEngine(store, clock, usecase.ActivationConfig{})

	lic, err := uc.Activate(ctx, "TRIAL-ABC", "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", lic.UserID)
	assert.Equal(t, model.CodeTypeTrial, lic.Type)
	require.NotNil(t, lic.ExpiresAt)
	assert.True(t, lic.ExpiresAt.Equal(t0.Add(14*day)))

	current, err := uc.GetCurrentLicense(ctx)
	require.NoError(t, err)
	assert.Equal(t, lic, current)

	hasAdmin, err := uc.HasAnyAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, hasAdmin)

	acc, err := store.GetAccount(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, acc.IsAdmin())
	assert.True(t, acc.TrialActive)
	require.NotNil(t, acc.TrialEnd)
	assert.True(t, acc.TrialEnd.Equal(*lic.ExpiresAt))

	st, err := uc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecase.StateTrialAdmin, st.State)
	assert.Equal(t, 14, st.RemainingDays)

	clock.Advance(15 * day)

	expired, err := uc.IsExpired(ctx)
	require.NoError(t, err)
	assert.True(t, expired)
	st, err = uc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecase.StateExpiredTrial, st.State)

	demoted, err := uc.Demote(ctx)
	require.NoError(t, err)
	assert.True(t, demoted)

	hasAdmin, err = uc.HasAnyAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, hasAdmin)

	current, err = uc.GetCurrentLicense(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	acc, err = store.GetAccount(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, acc.IsAdmin())
	assert.False(t, acc.TrialActive)
	assert.Nil(t, acc.TrialStart)
	assert.Nil(t, acc.TrialEnd)

	t.Run("should reject a second user redeeming the used code", func(t *testing.T) {
		_, err := uc.Activate(ctx, "TRIAL-ABC", "U2")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})
}

func TestActivationUseCase_SingleAdmin(t *testing.T) {
	ctx := context.Background()

	setup := func() (*FaultyStore, usecase.ActivationUseCase) {
		store := NewFaultyStore()
		seedCode(store, "FIRST", model.CodeTypeTrial, nil)
		seedCode(store, "SECOND", model.CodeTypePermanent, nil)
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})
		_, err := uc.Activate(ctx, "FIRST", "U1")
		require.NoError(t, err)
		return store, uc
	}

	t.Run("should reject another user even with a valid code", func(t *testing.T) {
		store, uc := setup()

		_, err := uc.Activate(ctx, "SECOND", "U2")
		assert.ErrorIs(t, err, domain.ErrAdminAlreadyExists)

		// the code was not consumed
		_, err = store.Validate(ctx, "SECOND")
		assert.NoError(t, err)
		_, err = store.GetAccount(ctx, "U2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should reject another user regardless of code validity", func(t *testing.T) {
		_, uc := setup()

		_, err := uc.Activate(ctx, "NO-SUCH-CODE", "U2")
		assert.ErrorIs(t, err, domain.ErrAdminAlreadyExists)
		_, err = uc.Activate(ctx, "FIRST", "U2")
		assert.ErrorIs(t, err, domain.ErrAdminAlreadyExists)
	})

	t.Run("should apply the default trial length when the code has none", func(t *testing.T) {
		store, _ := setup()
		lic, err := store.GetCurrent(ctx)
		require.NoError(t, err)
		assert.True(t, lic.ExpiresAt.Equal(t0.Add(14*day)))
	})
}

func TestActivationUseCase_SelfUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("should replace a trial with a permanent license", func(t *testing.T) {
		store := NewFaultyStore()
		clock := clockwork.NewFakeClockAt(t0)
		seedCode(store, "TRIAL-1", model.CodeTypeTrial, intPtr(7))
		seedCode(store, "PERM-1", model.CodeTypePermanent, nil)
		uc := newEngine(store, clock, usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "TRIAL-1", "U1")
		require.NoError(t, err)
		clock.Advance(2 * day)

		lic, err := uc.Activate(ctx, "perm-1", "U1")
		require.NoError(t, err)
		assert.Equal(t, model.CodeTypePermanent, lic.Type)
		assert.Nil(t, lic.ExpiresAt)
		assert.Equal(t, "PERM1", lic.CodeUsed)

		current, err := uc.GetCurrentLicense(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.CodeTypePermanent, current.Type)
		assert.Nil(t, current.ExpiresAt)

		days, err := uc.RemainingDays(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.PermanentRemainingDays, days)

		expiring, err := uc.IsExpiring(ctx)
		require.NoError(t, err)
		assert.False(t, expiring)

		acc, err := store.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.True(t, acc.IsAdmin())
		assert.False(t, acc.TrialActive)
		assert.Nil(t, acc.TrialEnd)

		admins, err := store.ListAdmins(ctx)
		require.NoError(t, err)
		assert.Len(t, admins, 1)

		st, err := uc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, usecase.StatePermanentAdmin, st.State)

		// permanent never expires, so demotion stays a no-op
		clock.Advance(10 * 365 * day)
		demoted, err := uc.Demote(ctx)
		require.NoError(t, err)
		assert.False(t, demoted)
	})

	t.Run("should discard the old expiry when a new trial is redeemed", func(t *testing.T) {
		store := NewFaultyStore()
		clock := clockwork.NewFakeClockAt(t0)
		seedCode(store, "TRIAL-1", model.CodeTypeTrial, intPtr(3))
		seedCode(store, "TRIAL-2", model.CodeTypeTrial, intPtr(30))
		uc := newEngine(store, clock, usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "TRIAL-1", "U1")
		require.NoError(t, err)
		clock.Advance(day)

		lic, err := uc.Activate(ctx, "TRIAL-2", "U1")
		require.NoError(t, err)
		assert.True(t, lic.ExpiresAt.Equal(t0.Add(31*day)))

		acc, err := store.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.True(t, acc.TrialEnd.Equal(*lic.ExpiresAt))
	})
}

func TestActivationUseCase_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "SHORT", model.CodeTypeTrial, intPtr(3))
	uc := newEngine(store, clock, usecase.ActivationConfig{WarningDays: 1})

	_, err := uc.Activate(ctx, "SHORT", "U1")
	require.NoError(t, err)

	check := func(at time.Duration, wantExpired, wantExpiring bool, wantDays int) {
		t.Helper()
		clock.Advance(at - clock.Since(t0))
		expired, err := uc.IsExpired(ctx)
		require.NoError(t, err)
		expiring, err := uc.IsExpiring(ctx)
		require.NoError(t, err)
		days, err := uc.RemainingDays(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantExpired, expired, "expired at +%s", at)
		assert.Equal(t, wantExpiring, expiring, "expiring at +%s", at)
		assert.Equal(t, wantDays, days, "remaining at +%s", at)
	}

	check(0, false, false, 3)
	check(36*time.Hour, false, false, 2)
	check(2*day, false, true, 1)
	check(3*day-time.Nanosecond, false, true, 1)
	check(3*day, true, false, 0)
	check(4*day, true, false, 0)
}

func TestActivationUseCase_WarningWindow(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "TEN", model.CodeTypeTrial, intPtr(10))
	uc := newEngine(store, clock, usecase.ActivationConfig{WarningDays: 3})

	_, err := uc.Activate(ctx, "TEN", "U1")
	require.NoError(t, err)

	clock.Advance(6 * day)
	expiring, err := uc.IsExpiring(ctx)
	require.NoError(t, err)
	assert.False(t, expiring)

	clock.Advance(day)
	expiring, err = uc.IsExpiring(ctx)
	require.NoError(t, err)
	assert.True(t, expiring)
}

func TestActivationUseCase_Demote(t *testing.T) {
	ctx := context.Background()

	t.Run("should be a no-op without a license", func(t *testing.T) {
		store := NewFaultyStore()
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		demoted, err := uc.Demote(ctx)
		require.NoError(t, err)
		assert.False(t, demoted)
		assert.Zero(t, store.Calls.Clear)

		days, err := uc.RemainingDays(ctx)
		require.NoError(t, err)
		assert.Zero(t, days)
		expired, err := uc.IsExpired(ctx)
		require.NoError(t, err)
		assert.False(t, expired)
	})

	t.Run("should be a no-op while the trial is running", func(t *testing.T) {
		store := NewFaultyStore()
		clock := clockwork.NewFakeClockAt(t0)
		seedCode(store, "T", model.CodeTypeTrial, intPtr(2))
		uc := newEngine(store, clock, usecase.ActivationConfig{})
		_, err := uc.Activate(ctx, "T", "U1")
		require.NoError(t, err)

		clock.Advance(day)
		demoted, err := uc.Demote(ctx)
		require.NoError(t, err)
		assert.False(t, demoted)

		hasAdmin, err := uc.HasAnyAdmin(ctx)
		require.NoError(t, err)
		assert.True(t, hasAdmin)
	})

	t.Run("should be idempotent after expiry", func(t *testing.T) {
		store := NewFaultyStore()
		clock := clockwork.NewFakeClockAt(t0)
		seedCode(store, "T", model.CodeTypeTrial, intPtr(2))
		uc := newEngine(store, clock, usecase.ActivationConfig{})
		_, err := uc.Activate(ctx, "T", "U1")
		require.NoError(t, err)

		clock.Advance(2 * day)
		first, err := uc.Demote(ctx)
		require.NoError(t, err)
		second, err := uc.Demote(ctx)
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
		st, err := uc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, usecase.StateNoAdmin, st.State)
		assert.Nil(t, st.License)
		assert.False(t, st.HasAdmin)
	})

	t.Run("should surface a failed clear", func(t *testing.T) {
		store := NewFaultyStore()
		clock := clockwork.NewFakeClockAt(t0)
		seedCode(store, "T", model.CodeTypeTrial, intPtr(1))
		uc := newEngine(store, clock, usecase.ActivationConfig{})
		_, err := uc.Activate(ctx, "T", "U1")
		require.NoError(t, err)

		clock.Advance(2 * day)
		store.ClearErr = errors.New("disk full")
		demoted, err := uc.Demote(ctx)
		assert.False(t, demoted)
		assert.ErrorIs(t, err, domain.ErrPersistence)
	})
}

func TestActivationUseCase_ExpiredTrialResolvedOnActivate(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "OLD", model.CodeTypeTrial, intPtr(1))
	seedCode(store, "NEW", model.CodeTypeTrial, intPtr(5))
	uc := newEngine(store, clock, usecase.ActivationConfig{})

	_, err := uc.Activate(ctx, "OLD", "U1")
	require.NoError(t, err)
	clock.Advance(2 * day)

	lic, err := uc.Activate(ctx, "NEW", "U2")
	require.NoError(t, err)
	assert.Equal(t, "U2", lic.UserID)

	old, err := store.GetAccount(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, old.IsAdmin())
	admins, err := store.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "U2", admins[0].ID)
}

func TestActivationUseCase_InvalidCodes(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "GOOD", model.CodeTypeTrial, nil)

	stale, err := model.NewActivationCode("STALE", model.CodeTypeTrial, nil, t0.Add(-48*time.Hour))
	require.NoError(t, err)
	past := t0.Add(-time.Hour)
	stale.ExpiresAt = &past
	require.NoError(t, store.Save(ctx, stale))

	uc := newEngine(store, clock, usecase.ActivationConfig{})

	for name, code := range map[string]string{
		"unknown": "NOPE",
		"empty":   " - ",
		"expired": "STALE",
	} {
		t.Run("should reject "+name+" code", func(t *testing.T) {
			_, err := uc.Activate(ctx, code, "U1")
			assert.ErrorIs(t, err, domain.ErrInvalidCode)
		})
	}

	t.Run("should reject an empty user id", func(t *testing.T) {
		_, err := uc.Activate(ctx, "GOOD", "")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should match codes in any case and spacing", func(t *testing.T) {
		lic, err := uc.Activate(ctx, " g-o o_d ", "U1")
		require.NoError(t, err)
		assert.Equal(t, "GOOD", lic.CodeUsed)
	})

	assert.Equal(t, 1, store.Calls.Put, "only the successful activation writes a license")
}

func TestActivationUseCase_ValidateCode(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	seedCode(store, "TRIAL-ABC", model.CodeTypeTrial, nil)
	seedCode(store, "PERM-XYZ", model.CodeTypePermanent, nil)
	uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{DefaultTrialDays: 21})

	t.Run("should preview a trial code with the effective duration", func(t *testing.T) {
		info, err := uc.ValidateCode(ctx, "trial-abc")
		require.NoError(t, err)
		assert.Equal(t, "TRIALABC", info.Code)
		assert.Equal(t, model.CodeTypeTrial, info.Type)
		assert.Equal(t, 21, info.DurationDays)
	})

	t.Run("should preview a permanent code", func(t *testing.T) {
		info, err := uc.ValidateCode(ctx, "PERM-XYZ")
		require.NoError(t, err)
		assert.Equal(t, model.CodeTypePermanent, info.Type)
		assert.Zero(t, info.DurationDays)
	})

	t.Run("should have no side effects", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := uc.ValidateCode(ctx, "TRIAL-ABC")
			require.NoError(t, err)
		}
		assert.Zero(t, store.Calls.MarkUsed)
		assert.Zero(t, store.Calls.Put)
		assert.Zero(t, store.Calls.SaveAccount)
	})

	t.Run("should report unknown codes as invalid", func(t *testing.T) {
		_, err := uc.ValidateCode(ctx, "NOPE")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})

	t.Run("should report a used code as invalid", func(t *testing.T) {
		_, err := uc.Activate(ctx, "TRIAL-ABC", "U1")
		require.NoError(t, err)
		_, err = uc.ValidateCode(ctx, "TRIAL-ABC")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})

	t.Run("should keep store failures distinct from invalid codes", func(t *testing.T) {
		store.ValidateErr = errors.New("connection refused")
		defer func() { store.ValidateErr = nil }()
		_, err := uc.ValidateCode(ctx, "PERM-XYZ")
		assert.ErrorIs(t, err, domain.ErrPersistence)
		assert.NotErrorIs(t, err, domain.ErrInvalidCode)
	})
}

func TestActivationUseCase_PersistenceFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("should not apply anything when marking the code fails", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		store.MarkUsedErr = errors.New("io timeout")
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "C", "U1")
		var perr *domain.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "codes", perr.Store)
		assert.Equal(t, "C", perr.Code)
		assert.Equal(t, "U1", perr.UserID)

		lic, err := uc.GetCurrentLicense(ctx)
		require.NoError(t, err)
		assert.Nil(t, lic)
		assert.Zero(t, store.Calls.Put)
	})

	t.Run("should surface a failed license write and keep the code used", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		store.PutErr = errors.New("read-only filesystem")
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "C", "U1")
		var perr *domain.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "license", perr.Store)
		assert.Equal(t, "put", perr.Op)

		hasAdmin, err := uc.HasAnyAdmin(ctx)
		require.NoError(t, err)
		assert.False(t, hasAdmin)

		store.PutErr = nil
		_, err = uc.Activate(ctx, "C", "U1")
		assert.ErrorIs(t, err, domain.ErrInvalidCode, "a used code is never handed out again")
	})

	t.Run("should restore the previous license when the role write fails", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "TRIAL", model.CodeTypeTrial, intPtr(5))
		seedCode(store, "PERM", model.CodeTypePermanent, nil)
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})
		before, err := uc.Activate(ctx, "TRIAL", "U1")
		require.NoError(t, err)

		store.SaveAccountErr = errors.New("directory unavailable")
		_, err = uc.Activate(ctx, "PERM", "U1")
		var perr *domain.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "accounts", perr.Store)

		after, err := uc.GetCurrentLicense(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("should clear the license when the first role write fails", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		store.SaveAccountErr = errors.New("directory unavailable")
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "C", "U1")
		assert.ErrorIs(t, err, domain.ErrPersistence)

		lic, err := uc.GetCurrentLicense(ctx)
		require.NoError(t, err)
		assert.Nil(t, lic)
	})

	t.Run("should surface a failed admin lookup", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		store.ListAdminsErr = errors.New("timeout")
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		_, err := uc.Activate(ctx, "C", "U1")
		assert.ErrorIs(t, err, domain.ErrPersistence)
		_, err = uc.HasAnyAdmin(ctx)
		assert.ErrorIs(t, err, domain.ErrPersistence)
		assert.Zero(t, store.Calls.MarkUsed)
	})
}

func TestActivationUseCase_Cancellation(t *testing.T) {
	store := NewFaultyStore()
	seedCode(store, "C", model.CodeTypeTrial, nil)
	uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.Activate(ctx, "C", "U1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Calls.MarkUsed)

	_, err = store.Validate(context.Background(), "C")
	assert.NoError(t, err, "code must stay available")
}

func TestActivationUseCase_ConcurrentRedemption(t *testing.T) {
	const workers = 32

	run := func(t *testing.T, activate func(i int) error) (ok, invalid int32) {
		t.Helper()
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				err := activate(i)
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, domain.ErrInvalidCode):
					atomic.AddInt32(&invalid, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()
		return ok, invalid
	}

	t.Run("should redeem a code once when the same user races", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "RACE", model.CodeTypeTrial, nil)
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{})

		ok, invalid := run(t, func(int) error {
			_, err := uc.Activate(context.Background(), "RACE", "U1")
			return err
		})
		assert.EqualValues(t, 1, ok)
		assert.EqualValues(t, workers-1, invalid)
		assert.Equal(t, 1, store.Calls.Put)
	})

	t.Run("should redeem a code once across engines sharing a store", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "RACE", model.CodeTypePermanent, nil)
		cfg := usecase.ActivationConfig{AllowMultipleAdmins: true}
		a := newEngine(store, clockwork.NewFakeClockAt(t0), cfg)
		b := newEngine(store, clockwork.NewFakeClockAt(t0), cfg)

		ok, invalid := run(t, func(i int) error {
			uc := a
			if i%2 == 1 {
				uc = b
			}
			_, err := uc.Activate(context.Background(), "RACE", "user-"+strconv.Itoa(i))
			return err
		})
		assert.EqualValues(t, 1, ok)
		assert.EqualValues(t, workers-1, invalid)

		admins, err := store.ListAdmins(context.Background())
		require.NoError(t, err)
		assert.Len(t, admins, 1)
	})
}

func TestActivationUseCase_MultipleAdmins(t *testing.T) {
	ctx := context.Background()
	store := NewFaultyStore()
	clock := clockwork.NewFakeClockAt(t0)
	seedCode(store, "FIRST", model.CodeTypeTrial, intPtr(10))
	seedCode(store, "SECOND", model.CodeTypeTrial, intPtr(3))
	uc := newEngine(store, clock, usecase.ActivationConfig{AllowMultipleAdmins: true})

	_, err := uc.Activate(ctx, "FIRST", "U1")
	require.NoError(t, err)

	t.Run("should reject a used code for another user", func(t *testing.T) {
		_, err := uc.Activate(ctx, "FIRST", "U2")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})

	lic, err := uc.Activate(ctx, "SECOND", "U2")
	require.NoError(t, err)
	assert.Equal(t, "U2", lic.UserID)

	admins, err := store.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	for _, a := range admins {
		require.NotNil(t, a.TrialEnd, a.ID)
		assert.True(t, a.TrialEnd.Equal(t0.Add(3*day)), "%s mirrors the single current license", a.ID)
	}

	clock.Advance(3 * day)
	demoted, err := uc.Demote(ctx)
	require.NoError(t, err)
	assert.True(t, demoted)

	admins, err = store.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Empty(t, admins)
}

func TestActivationUseCase_Locker(t *testing.T) {
	ctx := context.Background()

	t.Run("should hold the shared lock only during writes", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		locker := NewMockLocker()
		uc := newEngine(store, clockwork.NewFakeClockAt(t0), usecase.ActivationConfig{}, usecase.WithLocker(locker))

		_, err := uc.Activate(ctx, "C", "U1")
		require.NoError(t, err)
		_, err = uc.Demote(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, locker.Acquire)
		assert.False(t, locker.Held("activation:lock"))
	})

	t.Run("should fail as a persistence error when the lock is unavailable", func(t *testing.T) {
		store := NewFaultyStore()
		seedCode(store, "C", model.CodeTypeTrial, nil)
		locker := NewMockLocker()
		locker.ErrOn["shop:lock"] = errors.New("redis down")
		uc := newEngine(store, clockwork.NewFakeClockAt(t0),
			usecase.ActivationConfig{LockKey: "shop:lock"}, usecase.WithLocker(locker))

		_, err := uc.Activate(ctx, "C", "U1")
		var perr *domain.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "lock", perr.Store)
		assert.Zero(t, store.Calls.MarkUsed)
	})
}
