// Package httpapi exposes the dev identity backend over HTTP.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/service"
)

const maxBody = 1 << 16

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// LoginRate is the per-IP login budget per minute; 0 disables it.
	LoginRate int
	// Health reports dependency status for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server wires the auth service into HTTP handlers.
type Server struct {
	auth     service.AuthService
	log      *zap.Logger
	metrics  *Metrics
	health   func(ctx context.Context) error
	validate *validator.Validate
}

// New constructs the handler set.
func New(auth service.AuthService, log *zap.Logger, m *Metrics, health func(ctx context.Context) error) *Server {
	if m == nil {
		m = NewMetrics()
	}
	return &Server{auth: auth, log: log, metrics: m, health: health, validate: validator.New()}
}

// NewRouter builds the full HTTP surface.
func NewRouter(auth service.AuthService, log *zap.Logger, m *Metrics, opts Options) http.Handler {
	s := New(auth, log, m, opts.Health)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logging(log, s.metrics))
	r.Use(Recover(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", correlationHeader},
		ExposedHeaders:   []string{correlationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.LoginRate > 0 {
				r.Use(httprate.LimitByIP(opts.LoginRate, time.Minute))
			}
			r.Post("/login", s.Login)
		})
		r.With(Bearer(auth)).Get("/me", s.Me)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "")
	})
	return r
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginUser struct {
	ID       string   `json:"id"`
	UserName string   `json:"userName"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      loginUser `json:"user"`
}

type meResponse struct {
	ID                     string          `json:"id"`
	Email                  string          `json:"email"`
	Name                   string          `json:"name"`
	Roles                  []string        `json:"roles"`
	Permissions            []string        `json:"permissions"`
	Contexts               []model.Context `json:"contexts"`
	DefaultContext         *model.Context  `json:"defaultContext,omitempty"`
	ProfessionalProfileID  string          `json:"professionalProfileId,omitempty"`
	HasProfessionalProfile bool            `json:"hasProfessionalProfile"`
}

// Login authenticates by email and password and issues an access token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "email and password are required")
		return
	}

	tok, a, err := s.auth.LoginWithIP(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		status := statusOf(err)
		switch status {
		case http.StatusUnauthorized:
			s.metrics.LoginsTotal.WithLabelValues(OutcomeInvalid).Inc()
			writeProblem(w, status, "invalid email or password")
		case http.StatusTooManyRequests:
			s.metrics.LoginsTotal.WithLabelValues(OutcomeLocked).Inc()
			writeProblem(w, status, "too many failed attempts, try again later")
		default:
			s.metrics.LoginsTotal.WithLabelValues(OutcomeError).Inc()
			s.log.Error("login failed", zap.Error(err))
			writeProblem(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	s.metrics.LoginsTotal.WithLabelValues(OutcomeSuccess).Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt.UTC(),
		User: loginUser{
			ID:       a.ID.String(),
			UserName: a.FullName,
			Email:    a.Email,
			Roles:    nonNil(a.Roles),
		},
	})
}

// Me returns the full identity of the token's subject.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := AccountIDFromCtx(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	a, err := s.auth.Me(r.Context(), id)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			s.log.Error("load account", zap.Error(err), zap.String("id", id.String()))
		}
		writeProblem(w, status, "")
		return
	}
	p := a.Profile()
	contexts := p.Contexts
	if contexts == nil {
		contexts = []model.Context{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:                     p.ID,
		Email:                  p.Email,
		Name:                   p.Name,
		Roles:                  nonNil(p.Roles),
		Permissions:            nonNil(p.Permissions),
		Contexts:               contexts,
		DefaultContext:         p.DefaultContext,
		ProfessionalProfileID:  p.ProfessionalProfileID,
		HasProfessionalProfile: p.HasProfessionalProfile,
	})
}

// Healthz reports whether the backend and its database are up.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeProblem(w, http.StatusServiceUnavailable, errs.ErrUnavailable.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP prefers the address RealIP resolved, without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
