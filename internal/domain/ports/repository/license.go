package repository

import (
	"context"

	"shop-activation/internal/domain/model"
)

// LicenseStore holds the single current license. No history is kept.
type LicenseStore interface {
	// GetCurrent returns domain.ErrNotFound when no license is stored.
	GetCurrent(ctx context.Context) (*model.License, error)
	// Put replaces the stored license.
	Put(ctx context.Context, l *model.License) error
	// Clear removes the stored license. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
