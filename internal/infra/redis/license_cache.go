package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/infra/metrics"
)

var _ repository.LicenseStore = (*licenseCacheDecorator)(nil)

const licenseKey = "license:current"

// licenseCacheDecorator serves GetCurrent from redis and drops the entry after
// every write, so every process sharing the redis sees the new license.
type licenseCacheDecorator struct {
	inner repository.LicenseStore
	cache RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewLicenseCacheDecorator(inner repository.LicenseStore, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.LicenseStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "license_cache").Logger()
	return &licenseCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func (d *licenseCacheDecorator) GetCurrent(ctx context.Context) (*model.License, error) {
	val, err := d.cache.Get(ctx, licenseKey)
	if err == nil {
		var l model.License
		if json.Unmarshal([]byte(val), &l) == nil {
			metrics.IncCacheRequest("license", "hit")
			return &l, nil
		}
	} else if !errors.Is(err, Nil) {
		d.log.Warn().Err(err).Msg("license cache read failed")
	}

	metrics.IncCacheRequest("license", "miss")
	l, err := d.inner.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(l); err == nil {
		if err := d.cache.Set(ctx, licenseKey, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Msg("license cache fill failed")
		}
	}
	return l, nil
}

func (d *licenseCacheDecorator) Put(ctx context.Context, l *model.License) error {
	if err := d.inner.Put(ctx, l); err != nil {
		return err
	}
	d.invalidate(ctx)
	return nil
}

func (d *licenseCacheDecorator) Clear(ctx context.Context) error {
	if err := d.inner.Clear(ctx); err != nil {
		return err
	}
	d.invalidate(ctx)
	return nil
}

func (d *licenseCacheDecorator) invalidate(ctx context.Context) {
	if err := d.cache.Del(ctx, licenseKey); err != nil {
		d.log.Error().Err(err).Msg("license cache invalidation failed")
	}
}
