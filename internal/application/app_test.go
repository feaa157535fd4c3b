//go:build !integration

package application

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-activation/internal/config"
	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestApp_WiresConfigIntoUseCases(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "bolt", Dir: t.TempDir()},
		License: config.LicenseConfig{DefaultTrialDays: 5, WarningDays: 2},
	}
	app, err := New(ctx, cfg, newTestLogger())
	require.NoError(t, err)
	defer app.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	app = Compose(cfg, app.Stores, clock, newTestLogger())

	codes, err := app.Issuer.Issue(ctx, usecase.IssueRequest{Type: model.CodeTypeTrial, Count: 1})
	require.NoError(t, err)

	lic, err := app.Activation.Activate(ctx, codes[0].Code, "U1")
	require.NoError(t, err)
	require.NotNil(t, lic.ExpiresAt)
	assert.Equal(t, 5*24*time.Hour, lic.ExpiresAt.Sub(lic.ActivatedAt), "default trial length comes from config")

	clock.Advance(3*24*time.Hour + time.Hour)
	expiring, err := app.Activation.IsExpiring(ctx)
	require.NoError(t, err)
	assert.True(t, expiring, "warning window comes from config")
}

func TestApp_SharedFileDirectoryKeepsSingleAdmin(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "file", Dir: t.TempDir()},
		License: config.LicenseConfig{DefaultTrialDays: 14, WarningDays: 1},
	}
	// two processes on one data directory, e.g. the service and licensectl
	apps := make([]*App, 2)
	for i := range apps {
		app, err := New(ctx, cfg, newTestLogger())
		require.NoError(t, err)
		defer app.Close()
		require.NotNil(t, app.Stores.Locker)
		apps[i] = app
	}

	const contenders = 8
	codes, err := apps[0].Issuer.Issue(ctx, usecase.IssueRequest{Type: model.CodeTypePermanent, Count: contenders})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("U%d", i)
			_, err := apps[i%2].Activation.Activate(ctx, codes[i].Code, user)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrAdminAlreadyExists)
				return
			}
			mu.Lock()
			wins = append(wins, user)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	admins, err := apps[1].Stores.Users.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, wins[0], admins[0].ID)
}
