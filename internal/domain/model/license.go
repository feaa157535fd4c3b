package model

import (
	"math"
	"time"

	"shop-activation/internal/domain"
)

// PermanentRemainingDays is reported as the remaining days of a license that never expires.
const PermanentRemainingDays = math.MaxInt32

const day = 24 * time.Hour

// License is the current administrator's access tier. Only one exists at a time.
type License struct {
	UserID      string     `json:"user_id"`
	Type        CodeType   `json:"type"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // nil for permanent
	CodeUsed    string     `json:"code_used"`
}

// NewLicense derives the license granted by redeeming code at now.
func NewLicense(userID string, code *ActivationCode, defaultTrialDays int, now time.Time) (*License, error) {
	if userID == "" || code == nil {
		return nil, domain.ErrInvalidArgument
	}
	l := &License{
		UserID:      userID,
		Type:        code.Type,
		ActivatedAt: now,
		CodeUsed:    code.Code,
	}
	if code.Type == CodeTypeTrial {
		days := code.EffectiveDurationDays(defaultTrialDays)
		if days <= 0 {
			return nil, domain.ErrInvalidArgument
		}
		ex := now.Add(time.Duration(days) * day)
		l.ExpiresAt = &ex
	}
	return l, nil
}

func (l *License) IsPermanent() bool { return l.Type == CodeTypePermanent || l.ExpiresAt == nil }

// IsExpired is true from the expiry instant onwards. Permanent licenses never expire.
func (l *License) IsExpired(now time.Time) bool {
	if l.IsPermanent() {
		return false
	}
	return !now.Before(*l.ExpiresAt)
}

// RemainingDays rounds the time left up to whole days, so a trial with 36h left reports 2.
// Expired trials report 0 and permanent licenses PermanentRemainingDays.
func (l *License) RemainingDays(now time.Time) int {
	if l.IsPermanent() {
		return PermanentRemainingDays
	}
	left := l.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + day - 1) / day)
}

// IsExpiring is true inside the warning window: 0 < remaining <= warningDays.
func (l *License) IsExpiring(now time.Time, warningDays int) bool {
	if l.IsPermanent() {
		return false
	}
	r := l.RemainingDays(now)
	return r > 0 && r <= warningDays
}

func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	cp := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
