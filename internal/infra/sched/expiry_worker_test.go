//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-activation/internal/domain/model"
	"shop-activation/internal/infra/store/memstore"
	"shop-activation/internal/usecase"
)

const day = 24 * time.Hour

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func setup(t *testing.T, typ model.CodeType, days int) (*memstore.Store, *clockwork.FakeClock, usecase.ActivationUseCase) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	clock := clockwork.NewFakeClockAt(t0)

	var dur *int
	if typ == model.CodeTypeTrial {
		dur = &days
	}
	code, err := model.NewActivationCode("CODE-1", typ, dur, t0)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, code))

	uc := usecase.NewActivationUseCase(store, store, store, usecase.ActivationConfig{}, newTestLogger(), usecase.WithClock(clock))
	_, err = uc.Activate(ctx, "CODE-1", "U1")
	require.NoError(t, err)
	return store, clock, uc
}

func TestExpiryWorker_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("should leave a running trial alone", func(t *testing.T) {
		store, clock, uc := setup(t, model.CodeTypeTrial, 3)
		w := NewExpiryWorker(time.Minute, uc, clock, newTestLogger())

		clock.Advance(2*day + time.Hour)
		assert.False(t, w.Check(ctx))
		assert.NotEmpty(t, w.warned, "an expiring trial should be warned about")

		acc, err := store.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.True(t, acc.IsAdmin())
	})

	t.Run("should demote once the trial has expired", func(t *testing.T) {
		store, clock, uc := setup(t, model.CodeTypeTrial, 3)
		w := NewExpiryWorker(time.Minute, uc, clock, newTestLogger())

		clock.Advance(3 * day)
		assert.True(t, w.Check(ctx))

		lic, err := uc.GetCurrentLicense(ctx)
		require.NoError(t, err)
		assert.Nil(t, lic)
		acc, err := store.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.False(t, acc.IsAdmin())
		assert.False(t, acc.TrialActive)

		assert.False(t, w.Check(ctx), "a second pass has nothing to demote")
	})

	t.Run("should never demote a permanent administrator", func(t *testing.T) {
		_, clock, uc := setup(t, model.CodeTypePermanent, 0)
		w := NewExpiryWorker(time.Minute, uc, clock, newTestLogger())

		clock.Advance(10 * 365 * day)
		assert.False(t, w.Check(ctx))
		st, err := uc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, usecase.StatePermanentAdmin, st.State)
	})
}

func TestExpiryWorker_Run(t *testing.T) {
	_, clock, uc := setup(t, model.CodeTypeTrial, 1)
	w := NewExpiryWorker(time.Hour, uc, clock, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// wait for the ticker, then step past the expiry
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(day)

	assert.Eventually(t, func() bool {
		hasAdmin, err := uc.HasAnyAdmin(context.Background())
		return err == nil && !hasAdmin
	}, time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}
