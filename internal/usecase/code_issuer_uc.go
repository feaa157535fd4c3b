package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/infra/logging"
	"shop-activation/internal/infra/metrics"
)

// Compile-time check
var _ CodeIssuerUseCase = (*codeIssuerUC)(nil)

// CodeIssuerUseCase creates activation codes for operators. It never redeems them.
type CodeIssuerUseCase interface {
	// Issue generates n random codes of the requested kind.
	Issue(ctx context.Context, req IssueRequest) ([]*model.ActivationCode, error)
	// Register stores a code with a caller-chosen value, e.g. a printed voucher.
	Register(ctx context.Context, code string, req IssueRequest) (*model.ActivationCode, error)
	List(ctx context.Context) ([]*model.ActivationCode, error)
}

type IssueRequest struct {
	Type         model.CodeType
	DurationDays *int       // trial only; nil uses license.default_trial_days at redemption
	Count        int        // Issue only
	ExpiresAt    *time.Time // optional expiry of the code itself
	Note         string
}

const maxIssueBatch = 1000

type codeIssuerUC struct {
	codes repository.CodeStore
	clock clockwork.Clock
	log   *zerolog.Logger
}

func NewCodeIssuerUseCase(codes repository.CodeStore, clock clockwork.Clock, logger *zerolog.Logger) *codeIssuerUC {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := logger.With().Str("component", "CodeIssuerUseCase").Logger()
	return &codeIssuerUC{codes: codes, clock: clock, log: &l}
}

func (u *codeIssuerUC) Issue(ctx context.Context, req IssueRequest) ([]*model.ActivationCode, error) {
	defer logging.TraceDuration(u.log, "CodeIssuerUC.Issue")()

	if req.Count <= 0 || req.Count > maxIssueBatch {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", domain.ErrInvalidArgument, maxIssueBatch)
	}
	out := make([]*model.ActivationCode, 0, req.Count)
	for len(out) < req.Count {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ac, err := u.issueOne(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, ac)
	}
	metrics.IncCodesIssued(string(req.Type), len(out))
	u.log.Info().Str("type", string(req.Type)).Int("count", len(out)).Msg("activation codes issued")
	return out, nil
}

// issueOne retries a few times on the (unlikely) collision with an existing code.
func (u *codeIssuerUC) issueOne(ctx context.Context, req IssueRequest) (*model.ActivationCode, error) {
	for attempt := 0; attempt < 3; attempt++ {
		raw, err := generateActivationCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		ac, err := u.build(raw, req)
		if err != nil {
			return nil, err
		}
		err = u.codes.Save(ctx, ac)
		if errors.Is(err, domain.ErrCodeExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ac, nil
	}
	return nil, domain.ErrCodeExists
}

func (u *codeIssuerUC) Register(ctx context.Context, code string, req IssueRequest) (*model.ActivationCode, error) {
	defer logging.TraceDuration(u.log, "CodeIssuerUC.Register")()

	ac, err := u.build(code, req)
	if err != nil {
		return nil, err
	}
	if err := u.codes.Save(ctx, ac); err != nil {
		return nil, err
	}
	metrics.IncCodesIssued(string(req.Type), 1)
	return ac, nil
}

func (u *codeIssuerUC) List(ctx context.Context) ([]*model.ActivationCode, error) {
	return u.codes.List(ctx)
}

func (u *codeIssuerUC) build(code string, req IssueRequest) (*model.ActivationCode, error) {
	now := u.clock.Now()
	ac, err := model.NewActivationCode(code, req.Type, req.DurationDays, now)
	if err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: code expiry must be in the future", domain.ErrInvalidArgument)
		}
		t := *req.ExpiresAt
		ac.ExpiresAt = &t
	}
	ac.Note = req.Note
	return ac, nil
}

// generateActivationCode creates a secure, random, and human-readable activation code.
// Format: XXXX-XXXX-XXXX
func generateActivationCode() (string, error) {
	// A character set that avoids ambiguous characters like O/0, I/1, l.
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const codeLength = 12

	buffer := make([]byte, codeLength)
	if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
		return "", err
	}

	for i := 0; i < codeLength; i++ {
		buffer[i] = chars[int(buffer[i])%len(chars)]
	}

	return string(buffer[0:4]) + "-" + string(buffer[4:8]) + "-" + string(buffer[8:12]), nil
}
