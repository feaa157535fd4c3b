package model

import (
	"slices"
	"strings"
	"time"

	"shop-activation/internal/domain"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is a shop user as seen by the activation subsystem.
// The Trial* fields mirror the current license for display and are written
// only by the activation use case; the License record stays the source of truth.
type Account struct {
	ID          string     `json:"id"`
	Username    string     `json:"username,omitempty"`
	Roles       []Role     `json:"roles"`
	TrialActive bool       `json:"trial_active"`
	TrialStart  *time.Time `json:"trial_start,omitempty"`
	TrialEnd    *time.Time `json:"trial_end,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func NewAccount(id, username string) (*Account, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Account{ID: id, Username: username, Roles: []Role{RoleUser}, UpdatedAt: time.Now()}, nil
}

func (a *Account) IsZero() bool { return a == nil || a.ID == "" }

func (a *Account) IsAdmin() bool { return slices.Contains(a.Roles, RoleAdmin) }

func (a *Account) GrantAdmin() {
	if !a.IsAdmin() {
		a.Roles = append(a.Roles, RoleAdmin)
	}
}

// RevokeAdmin drops the admin role, leaving the account with at least RoleUser.
func (a *Account) RevokeAdmin() {
	a.Roles = slices.DeleteFunc(a.Roles, func(r Role) bool { return r == RoleAdmin })
	if len(a.Roles) == 0 {
		a.Roles = []Role{RoleUser}
	}
}

// ProjectLicense writes the trial mirror from l. A nil or permanent license clears it.
func (a *Account) ProjectLicense(l *License) {
	if l == nil || l.IsPermanent() {
		a.ClearTrial()
		return
	}
	start := l.ActivatedAt
	end := *l.ExpiresAt
	a.TrialActive = true
	a.TrialStart = &start
	a.TrialEnd = &end
}

func (a *Account) ClearTrial() {
	a.TrialActive = false
	a.TrialStart = nil
	a.TrialEnd = nil
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Roles = slices.Clone(a.Roles)
	if a.TrialStart != nil {
		t := *a.TrialStart
		cp.TrialStart = &t
	}
	if a.TrialEnd != nil {
		t := *a.TrialEnd
		cp.TrialEnd = &t
	}
	return &cp
}

// SortAccounts orders accounts by id.
func SortAccounts(accs []*Account) {
	slices.SortFunc(accs, func(a, b *Account) int { return strings.Compare(a.ID, b.ID) })
}
