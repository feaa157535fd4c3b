// Package application composes the stores and use cases shared by every binary.
package application

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"shop-activation/internal/config"
	"shop-activation/internal/infra/store"
	"shop-activation/internal/usecase"
)

// App holds the wired use cases. Close releases the stores.
type App struct {
	Cfg        *config.Config
	Stores     *store.Stores
	Activation usecase.ActivationUseCase
	Issuer     usecase.CodeIssuerUseCase
	Clock      clockwork.Clock
	Log        *zerolog.Logger
}

// New opens the configured stores and builds the use cases on top of them.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	stores, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return Compose(cfg, stores, clockwork.NewRealClock(), logger), nil
}

// Compose builds the use cases over already opened stores.
func Compose(cfg *config.Config, stores *store.Stores, clock clockwork.Clock, logger *zerolog.Logger) *App {
	opts := []usecase.ActivationOption{usecase.WithClock(clock)}
	if stores.Locker != nil {
		opts = append(opts, usecase.WithLocker(stores.Locker))
	}
	act := usecase.NewActivationUseCase(stores.Codes, stores.Licenses, stores.Users, usecase.ActivationConfig{
		DefaultTrialDays:    cfg.License.DefaultTrialDays,
		WarningDays:         cfg.License.WarningDays,
		AllowMultipleAdmins: cfg.License.AllowMultipleAdmins,
		LockTTL:             cfg.Redis.LockTTL,
	}, logger, opts...)

	return &App{
		Cfg:        cfg,
		Stores:     stores,
		Activation: act,
		Issuer:     usecase.NewCodeIssuerUseCase(stores.Codes, clock, logger),
		Clock:      clock,
		Log:        logger,
	}
}

func (a *App) Close() error { return a.Stores.Close() }
