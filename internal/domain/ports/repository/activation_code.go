package repository

import (
	"context"
	"time"

	"shop-activation/internal/domain/model"
)

// CodeStore is the port for the activation code ledger.
// Codes are looked up by their canonical form (model.CanonicalCode).
type CodeStore interface {
	// Validate returns the code only while it is Available. It never mutates state.
	// Unknown or used codes yield domain.ErrNotFound; the code's own expiry is
	// checked by the caller with model.ActivationCode.Redeemable.
	Validate(ctx context.Context, code string) (*model.ActivationCode, error)
	// MarkUsed moves an Available code to Used as a single compare-and-set.
	// A code that is already Used fails with domain.ErrCodeAlreadyUsed, unknown codes
	// with domain.ErrCodeNotFound. The change is durable when MarkUsed returns.
	MarkUsed(ctx context.Context, code, userID string, at time.Time) error
	// Save inserts a new code. Existing codes fail with domain.ErrCodeExists.
	Save(ctx context.Context, code *model.ActivationCode) error
	// List returns every code in the ledger, used ones included.
	List(ctx context.Context) ([]*model.ActivationCode, error)
}
