package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shop-activation/internal/domain/ports/repository"
	"shop-activation/internal/usecase"
)

// RateLimiter caps attempts per key within a window. redis.RateLimiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	APIKey            string
	Timeout           time.Duration
	Limiter           RateLimiter // nil disables rate limiting
	ActivateRateLimit int         // attempts per subject per minute
}

type Server struct {
	actUC    usecase.ActivationUseCase
	issuerUC usecase.CodeIssuerUseCase
	users    repository.UserDirectory
	auth     *AuthManager
	apiKey   string
	timeout  time.Duration
	limiter  RateLimiter
	limit    int
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(
	actUC usecase.ActivationUseCase,
	issuerUC usecase.CodeIssuerUseCase,
	users repository.UserDirectory,
	auth *AuthManager,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		actUC:    actUC,
		issuerUC: issuerUC,
		users:    users,
		auth:     auth,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		limiter:  opts.Limiter,
		limit:    opts.ActivateRateLimit,
		validate: validator.New(),
		log:      &l,
	}
}

// Routes builds the router: /health, /metrics and the /api/v1 tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID, RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.timeout))

		// Account-facing routes, authenticated by user JWT.
		r.Group(func(r chi.Router) {
			r.Use(s.RequireUser)
			r.Post("/codes/validate", s.handleValidateCode)
			r.Post("/activate", s.handleActivate)
			r.Get("/license", s.handleGetLicense)
			r.Get("/license/status", s.handleLicenseStatus)
			r.Get("/admins/exists", s.handleAdminsExist)
		})

		// Operator routes, authenticated by API key.
		r.Group(func(r chi.Router) {
			r.Use(s.RequireOperator)
			r.Post("/codes", s.handleIssueCodes)
			r.Get("/codes", s.handleListCodes)
			r.Post("/license/demote", s.handleDemote)
			r.Get("/accounts", s.handleListAccounts)
		})
	})
	return r
}
