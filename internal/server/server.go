package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"propman/internal/auth"
	"propman/internal/config"
	"propman/internal/metrics"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	Auth           *auth.Service
	Accounts       *auth.Accounts
	Tokens         *auth.TokenService
	RateLimiter    *auth.RateLimiter
	Audit          *auth.AuditLogger
	Metrics        *metrics.Metrics
	Log            logrus.FieldLogger
	Config         config.Config
	Checks         map[string]HealthCheck
	trustedProxies []net.IPNet
}

func NewServer(cfg config.Config, svc *auth.Service, accounts *auth.Accounts, rl *auth.RateLimiter, audit *auth.AuditLogger, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	return &Server{
		Auth:           svc,
		Accounts:       accounts,
		Tokens:         svc.Tokens,
		RateLimiter:    rl,
		Audit:          audit,
		Metrics:        m,
		Log:            log,
		Config:         cfg,
		Checks:         map[string]HealthCheck{},
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  s.Log,
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)
	r.Use(s.Metrics.Middleware)
	r.Use(withLocale)
	r.Use(s.authenticate)
	r.Use(s.authorize)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/signup", s.handleSignup)
		r.Post("/verify-2fa", s.handleVerifyTwoFactor)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)
		r.Get("/2fa/generate/{userId}", s.handleTwoFactorGenerate)
		r.Post("/2fa/enable/{userId}", s.handleTwoFactorEnable)
		r.Post("/2fa/disable/{userId}", s.handleTwoFactorDisable)
	})

	r.Get("/api/public/health", s.handleHealth)

	r.Route("/api/admin/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Get("/role/{role}", s.handleListUsersByRole)
		r.Get("/{id}", s.handleGetUser)
		r.Put("/{id}", s.handleUpdateUser)
		r.Put("/{id}/role", s.handleChangeRole)
		r.Delete("/{id}", s.handleDeleteUser)
		r.Get("/{id}/audit", s.handleUserAudit)
	})

	r.Get("/api/agent/clients", s.handleListClients)

	r.Route("/api/client", func(r chi.Router) {
		r.Get("/profile", s.handleGetProfile)
		r.Put("/profile", s.handleUpdateProfile)
		r.Put("/change-password", s.handleChangePassword)
	})

	r.Get("/api/me", s.handleMe)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			s.Log.WithError(err).WithField("check", name).Warn("health: check failed")
			result[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "up"
	}

	state := "UP"
	if status != http.StatusOK {
		state = "DOWN"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": result})
}

// audit records a security event. Failures are logged; they never fail the
// request.
func (s *Server) audit(r *http.Request, event string, userID int64, meta map[string]any) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Log(r.Context(), auth.AuditEvent{
		EventType: event,
		UserID:    userID,
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
		Meta:      meta,
	})
	if err != nil {
		s.Log.WithError(err).WithField("event", event).Warn("audit: write failed")
	}
}
