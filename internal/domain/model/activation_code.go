package model

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"shop-activation/internal/domain"
)

type CodeType string

const (
	CodeTypeTrial     CodeType = "trial"
	CodeTypePermanent CodeType = "permanent"
)

func (t CodeType) Valid() bool { return t == CodeTypeTrial || t == CodeTypePermanent }

type CodeStatus string

const (
	CodeStatusAvailable CodeStatus = "available"
	CodeStatusUsed      CodeStatus = "used"
)

// ActivationCode represents a single-use code that can be redeemed for an administrator license.
// Status only ever moves Available -> Used; UsedBy and UsedAt are set at that moment.
type ActivationCode struct {
	Code         string     `json:"code"`
	Type         CodeType   `json:"type"`
	DurationDays *int       `json:"duration_days,omitempty"` // Trial only; nil falls back to the configured default
	Status       CodeStatus `json:"status"`
	UsedBy       *string    `json:"used_by,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"` // optional expiry of the code itself
	Note         string     `json:"note,omitempty"`
}

// NewActivationCode builds an Available code in canonical form.
func NewActivationCode(code string, typ CodeType, durationDays *int, now time.Time) (*ActivationCode, error) {
	c := CanonicalCode(code)
	if c == "" || !typ.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if durationDays != nil && *durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if typ == CodeTypePermanent {
		durationDays = nil
	}
	return &ActivationCode{
		Code:         c,
		Type:         typ,
		DurationDays: durationDays,
		Status:       CodeStatusAvailable,
		CreatedAt:    now,
	}, nil
}

// CanonicalCode strips separators and whitespace and upper-cases the rest,
// so "trial-abc", "TRIAL ABC" and "TRIALABC" all compare equal.
func CanonicalCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch r {
		case '-', '_', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Redeemable reports whether the code may be redeemed at now.
func (c *ActivationCode) Redeemable(now time.Time) bool {
	if c == nil || c.Status != CodeStatusAvailable {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// EffectiveDurationDays resolves the trial length, falling back to defaultDays.
// Permanent codes return 0.
func (c *ActivationCode) EffectiveDurationDays(defaultDays int) int {
	if c.Type != CodeTypeTrial {
		return 0
	}
	if c.DurationDays != nil && *c.DurationDays > 0 {
		return *c.DurationDays
	}
	return defaultDays
}

// MarkUsed performs the one-way Available -> Used transition on the in-memory value.
func (c *ActivationCode) MarkUsed(userID string, at time.Time) error {
	if c.Status == CodeStatusUsed {
		return domain.ErrCodeAlreadyUsed
	}
	c.Status = CodeStatusUsed
	c.UsedBy = &userID
	c.UsedAt = &at
	return nil
}

// Clone returns a deep copy so stores never hand out their internal pointers.
func (c *ActivationCode) Clone() *ActivationCode {
	if c == nil {
		return nil
	}
	cp := *c
	if c.DurationDays != nil {
		d := *c.DurationDays
		cp.DurationDays = &d
	}
	if c.UsedBy != nil {
		u := *c.UsedBy
		cp.UsedBy = &u
	}
	if c.UsedAt != nil {
		t := *c.UsedAt
		cp.UsedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// SortCodes orders codes oldest first, breaking ties by code.
func SortCodes(codes []*ActivationCode) {
	slices.SortFunc(codes, func(a, b *ActivationCode) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
}
