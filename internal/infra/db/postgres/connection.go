package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"shop-activation/internal/infra/metrics"
)

const connectAttempts = 5

// Connect opens a pool against dsn, retrying while the server comes up.
func Connect(ctx context.Context, dsn string, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: database url is required")
	}
	var lastErr error
	for i := 1; i <= connectAttempts; i++ {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.Connect(cctx, dsn)
		if err == nil {
			err = pool.Ping(cctx)
			if err != nil {
				pool.Close()
			}
		}
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", i).Msg("postgres not ready")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	return nil, fmt.Errorf("postgres: connect after %d attempts: %w", connectAttempts, lastErr)
}

// ReportPoolStats publishes pool gauges every interval until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st := pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
