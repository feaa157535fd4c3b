package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"shop-activation/internal/domain"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/infra/logging"
	red "shop-activation/internal/infra/redis"
	"shop-activation/internal/usecase"
)

const maxBodyBytes = 1 << 20

type codeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type issueRequest struct {
	Type         string     `json:"type" validate:"required,oneof=trial permanent"`
	DurationDays *int       `json:"duration_days" validate:"omitempty,min=1,max=3650"`
	Count        int        `json:"count" validate:"omitempty,min=1,max=1000"`
	Code         string     `json:"code" validate:"omitempty,max=64"` // register this exact code instead of generating
	ExpiresAt    *time.Time `json:"expires_at"`
	Note         string     `json:"note" validate:"max=256"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.actUC.ValidateCode(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFrom(ctx)

	if !s.allowActivation(ctx, claims.Subject) {
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many activation attempts, try again later")
		return
	}

	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	lic, err := s.actUC.Activate(ctx, req.Code, claims.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (s *Server) allowActivation(ctx context.Context, subject string) bool {
	if s.limiter == nil || s.limit <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(ctx, red.ActivateKey(subject), s.limit, time.Minute)
	if err != nil {
		// fail open: the engine still rejects bad codes
		logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (s *Server) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := s.actUC.GetCurrentLicense(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if lic == nil {
		writeJSONError(w, http.StatusNotFound, "no_license", "no license is active")
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.actUC.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAdminsExist(w http.ResponseWriter, r *http.Request) {
	ok, err := s.actUC.HasAnyAdmin(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request) {
	demoted, err := s.actUC.Demote(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"demoted": demoted})
}

func (s *Server) handleIssueCodes(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := usecase.IssueRequest{
		Type:         model.CodeType(req.Type),
		DurationDays: req.DurationDays,
		Count:        req.Count,
		ExpiresAt:    req.ExpiresAt,
		Note:         req.Note,
	}

	var (
		codes []*model.ActivationCode
		err   error
	)
	if req.Code != "" {
		var c *model.ActivationCode
		c, err = s.issuerUC.Register(r.Context(), req.Code, in)
		if c != nil {
			codes = []*model.ActivationCode{c}
		}
	} else {
		if in.Count == 0 {
			in.Count = 1
		}
		codes, err = s.issuerUC.Issue(r.Context(), in)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": codes})
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.issuerUC.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := codes[:0]
		for _, c := range codes {
			if string(c.Status) == status {
				filtered = append(filtered, c)
			}
		}
		codes = filtered
	}
	if codes == nil {
		codes = []*model.ActivationCode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": codes, "total": len(codes)})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accs, err := s.users.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if accs == nil {
		accs = []*model.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": accs, "total": len(accs)})
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSONError(w, http.StatusBadRequest, "validation", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "validation", err.Error())
		return false
	}
	return true
}

// writeError maps use case errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_code", "the activation code is invalid, used or expired")
	case errors.Is(err, domain.ErrAdminAlreadyExists):
		writeJSONError(w, http.StatusConflict, "admin_exists", "an administrator already exists")
	case errors.Is(err, domain.ErrCodeExists):
		writeJSONError(w, http.StatusConflict, "code_exists", "the activation code already exists")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrPersistence):
		logging.With(r.Context(), s.log).Error().Err(err).Msg("persistence failure")
		writeJSONError(w, http.StatusServiceUnavailable, "persistence", "storage is unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("unhandled error")
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
