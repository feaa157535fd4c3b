package sched

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain/model"
	"shop-activation/internal/infra/metrics"
	"shop-activation/internal/usecase"
)

const expiryJob = "license_expiry"

// ExpiryWorker periodically checks the license, warns while a trial is about to
// run out and demotes the administrator once it has.
type ExpiryWorker struct {
	interval time.Duration
	uc       usecase.ActivationUseCase
	clock    clockwork.Clock
	log      *zerolog.Logger

	warned string // license the expiring warning was already logged for
}

func NewExpiryWorker(interval time.Duration, uc usecase.ActivationUseCase, clock clockwork.Clock, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		uc:       uc,
		clock:    clock,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	// Run once on startup, then on every tick
	w.Check(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.Chan():
			w.Check(ctx)
		}
	}
}

// Check runs one pass and reports whether an administrator was demoted.
func (w *ExpiryWorker) Check(ctx context.Context) bool {
	st, err := w.uc.Status(ctx)
	if err != nil {
		metrics.IncJobRun(expiryJob, "failed")
		w.log.Error().Err(err).Msg("license status check failed")
		return false
	}

	demoted := false
	switch {
	case st.Expired:
		demoted, err = w.uc.Demote(ctx)
		if err != nil {
			metrics.IncJobRun(expiryJob, "failed")
			w.log.Error().Err(err).Str("user_id", st.License.UserID).Msg("demotion of expired trial failed")
			return false
		}
		if demoted {
			w.log.Info().Str("user_id", st.License.UserID).Msg("expired trial administrator demoted")
			st = &usecase.LicenseStatus{State: usecase.StateNoAdmin}
		}
	case st.Expiring:
		if key := licenseKey(st.License); key != w.warned {
			w.warned = key
			w.log.Warn().
				Str("user_id", st.License.UserID).
				Int("remaining_days", st.RemainingDays).
				Time("expires_at", *st.License.ExpiresAt).
				Msg("trial license is about to expire")
		}
	}

	publish(st)
	metrics.IncJobRun(expiryJob, "ok")
	return demoted
}

func publish(st *usecase.LicenseStatus) {
	metrics.SetLicenseState(string(st.State))
	switch {
	case st.License == nil || st.Expired:
		metrics.SetLicenseRemainingDays(0)
	case st.License.IsPermanent():
		metrics.SetLicenseRemainingDays(-1)
	default:
		metrics.SetLicenseRemainingDays(st.RemainingDays)
	}
}

func licenseKey(l *model.License) string {
	return l.CodeUsed + "@" + l.ActivatedAt.Format(time.RFC3339Nano)
}
