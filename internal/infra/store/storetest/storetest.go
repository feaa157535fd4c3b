// Package storetest holds the contract tests every storage backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
)

// Backend is a store that serves all three ports, as every shipped driver does.
type Backend interface {
	repository.CodeStore
	repository.LicenseStore
	repository.UserDirectory
}

// Factory returns an empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) Backend

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the full contract against fresh backends from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("codes", func(t *testing.T) { testCodes(t, newStore) })
	t.Run("concurrent mark used", func(t *testing.T) { testConcurrentMarkUsed(t, newStore) })
	t.Run("license", func(t *testing.T) { testLicense(t, newStore) })
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore) })
}

func mustCode(t *testing.T, code string, typ model.CodeType, days *int) *model.ActivationCode {
	t.Helper()
	ac, err := model.NewActivationCode(code, typ, days, t0)
	require.NoError(t, err)
	return ac
}

func testCodes(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	days := 14

	trial := mustCode(t, "TRIAL-ABC", model.CodeTypeTrial, &days)
	trial.Note = "launch batch"
	exp := t0.Add(30 * 24 * time.Hour)
	trial.ExpiresAt = &exp
	require.NoError(t, s.Save(ctx, trial))
	require.NoError(t, s.Save(ctx, mustCode(t, "PERM-XYZ", model.CodeTypePermanent, nil)))

	t.Run("should refuse a duplicate code", func(t *testing.T) {
		err := s.Save(ctx, mustCode(t, "trial abc", model.CodeTypePermanent, nil))
		assert.ErrorIs(t, err, domain.ErrCodeExists)
	})

	t.Run("should validate by canonical form", func(t *testing.T) {
		got, err := s.Validate(ctx, "trial-abc")
		require.NoError(t, err)
		assert.Equal(t, "TRIALABC", got.Code)
		assert.Equal(t, model.CodeTypeTrial, got.Type)
		require.NotNil(t, got.DurationDays)
		assert.Equal(t, 14, *got.DurationDays)
		assert.Equal(t, model.CodeStatusAvailable, got.Status)
		assert.Equal(t, "launch batch", got.Note)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, got.ExpiresAt.Equal(exp))
		assert.True(t, got.CreatedAt.Equal(t0))
	})

	t.Run("should not find unknown codes", func(t *testing.T) {
		_, err := s.Validate(ctx, "NOPE")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.MarkUsed(ctx, "NOPE", "U1", t0), domain.ErrCodeNotFound)
	})

	t.Run("should mark a code used exactly once", func(t *testing.T) {
		usedAt := t0.Add(time.Hour)
		require.NoError(t, s.MarkUsed(ctx, "TRIAL-ABC", "U1", usedAt))

		_, err := s.Validate(ctx, "TRIALABC")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.MarkUsed(ctx, "TRIALABC", "U2", usedAt.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrCodeAlreadyUsed)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		var used *model.ActivationCode
		for _, c := range all {
			if c.Code == "TRIALABC" {
				used = c
			}
		}
		require.NotNil(t, used)
		assert.Equal(t, model.CodeStatusUsed, used.Status)
		require.NotNil(t, used.UsedBy)
		assert.Equal(t, "U1", *used.UsedBy)
		require.NotNil(t, used.UsedAt)
		assert.True(t, used.UsedAt.Equal(usedAt))
	})

	t.Run("should keep permanent codes without duration", func(t *testing.T) {
		got, err := s.Validate(ctx, "PERM-XYZ")
		require.NoError(t, err)
		assert.Equal(t, model.CodeTypePermanent, got.Type)
		assert.Nil(t, got.DurationDays)
		assert.Nil(t, got.ExpiresAt)
	})
}

func testConcurrentMarkUsed(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, mustCode(t, "RACE", model.CodeTypePermanent, nil)))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs <- s.MarkUsed(ctx, "RACE", fmt.Sprintf("user-%d", i), t0)
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrCodeAlreadyUsed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func testLicense(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetCurrent(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, s.Clear(ctx), "clearing an empty store is not an error")

	days := 14
	trial, err := model.NewLicense("U1", mustCode(t, "T", model.CodeTypeTrial, &days), 14, t0)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, trial))

	got, err := s.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "U1", got.UserID)
	assert.Equal(t, model.CodeTypeTrial, got.Type)
	assert.Equal(t, "T", got.CodeUsed)
	assert.True(t, got.ActivatedAt.Equal(t0))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*trial.ExpiresAt))

	perm, err := model.NewLicense("U1", mustCode(t, "P", model.CodeTypePermanent, nil), 14, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, perm))

	got, err = s.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CodeTypePermanent, got.Type, "put replaces the previous license")
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, "P", got.CodeUsed)

	require.NoError(t, s.Clear(ctx))
	_, err = s.GetCurrent(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testAccounts(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetAccount(ctx, "U1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	admins, err := s.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Empty(t, admins)

	for _, id := range []string{"U3", "U1", "U2"} {
		a, err := model.NewAccount(id, "name-"+id)
		require.NoError(t, err)
		a.UpdatedAt = t0
		require.NoError(t, s.SaveAccount(ctx, a))
	}

	a, err := s.GetAccount(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, "name-U2", a.Username)
	assert.False(t, a.IsAdmin())

	a.GrantAdmin()
	end := t0.Add(14 * 24 * time.Hour)
	start := t0
	a.TrialActive, a.TrialStart, a.TrialEnd = true, &start, &end
	require.NoError(t, s.SaveAccount(ctx, a))

	got, err := s.GetAccount(ctx, "U2")
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())
	assert.True(t, got.TrialActive)
	require.NotNil(t, got.TrialEnd)
	assert.True(t, got.TrialEnd.Equal(end))

	admins, err = s.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "U2", admins[0].ID)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"U1", "U2", "U3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	got.RevokeAdmin()
	got.ClearTrial()
	require.NoError(t, s.SaveAccount(ctx, got))
	admins, err = s.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Empty(t, admins)
}

// SeedAccount stores a plain user account with the given id.
func SeedAccount(t *testing.T, s repository.UserDirectory, id string) {
	t.Helper()
	a, err := model.NewAccount(id, "")
	require.NoError(t, err)
	require.NoError(t, s.SaveAccount(context.Background(), a))
}
