// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shop-activation/internal/application"
	"shop-activation/internal/config"
	pg "shop-activation/internal/infra/db/postgres"
	"shop-activation/internal/infra/logging"
	"shop-activation/internal/infra/metrics"
	"shop-activation/internal/infra/sched"
	"shop-activation/internal/infra/web"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Stores + use cases ----
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open stores")
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("close stores")
		}
	}()
	logger.Info().
		Str("version", version).
		Str("driver", cfg.Storage.Driver).
		Bool("multi_admin", cfg.License.AllowMultipleAdmins).
		Msg("activation service starting")

	g, gctx := errgroup.WithContext(ctx)

	// ---- Expiry worker ----
	worker := sched.NewExpiryWorker(cfg.Scheduler.ExpiryCheckInterval, app.Activation, app.Clock, logger)
	g.Go(func() error { return ignoreCanceled(worker.Run(gctx)) })

	if app.Stores.Pool != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, app.Stores.Pool, 15*time.Second)
			return nil
		})
	}

	// ---- HTTP API ----
	if cfg.HTTP.Port != 0 {
		auth := web.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.TokenTTL)
		opts := web.Options{
			APIKey:            cfg.HTTP.APIKey,
			Timeout:           cfg.HTTP.Timeout,
			ActivateRateLimit: cfg.HTTP.ActivateRateLimit,
		}
		if app.Stores.Limiter != nil {
			opts.Limiter = app.Stores.Limiter
		}
		srv := web.NewServer(app.Activation, app.Issuer, app.Stores.Users, auth, opts, logger)
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", server.Addr).Msg("http api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
		_ = app.Close()
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
