package repository

import (
	"context"

	"shop-activation/internal/domain/model"
)

// UserDirectory is the account/role service. The activation use case reads roles
// through it and writes the admin role plus the trial mirror back.
type UserDirectory interface {
	// GetAccount returns domain.ErrNotFound for unknown ids.
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	// SaveAccount creates or replaces the account.
	SaveAccount(ctx context.Context, a *model.Account) error
	// ListAdmins returns every account holding model.RoleAdmin.
	ListAdmins(ctx context.Context) ([]*model.Account, error)
	// ListAccounts returns all accounts ordered by id.
	ListAccounts(ctx context.Context) ([]*model.Account, error)
}
