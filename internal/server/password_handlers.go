package server

import (
	"net/http"
	"strings"

	"propman/internal/apperr"
	"propman/internal/auth"
	"propman/internal/metrics"
)

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		s.writeAppError(w, r, apperr.BadRequest("Required parameter 'email' is missing"))
		return
	}

	ctx := r.Context()
	locked, _, err := s.RateLimiter.RegisterResetAttempt(ctx, email, clientIP(r, s.trustedProxies))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if locked {
		s.Metrics.PasswordReset("request", metrics.ResultLocked)
		s.writeAppError(w, r, apperr.TooManyRequests("Too many password reset requests. Try again later."))
		return
	}

	if err := s.Auth.ForgotPassword(ctx, email); err != nil {
		s.Metrics.PasswordReset("request", metrics.ResultFailure)
		s.writeAppError(w, r, err)
		return
	}

	s.Metrics.PasswordReset("request", metrics.ResultSuccess)
	s.audit(r, auth.EventResetRequested, 0, map[string]any{"email": auth.NormalizeEmail(email)})
	writeMessage(w, "Password reset email sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if err := s.Auth.ResetPassword(r.Context(), req); err != nil {
		s.Metrics.PasswordReset("confirm", metrics.ResultFailure)
		s.writeAppError(w, r, err)
		return
	}

	s.Metrics.PasswordReset("confirm", metrics.ResultSuccess)
	meta := map[string]any{"via": "token"}
	if req.Token == "" {
		meta = map[string]any{"via": "email", "email": auth.NormalizeEmail(req.Email)}
	}
	var userID int64
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		userID = id.UserID
	}
	s.audit(r, auth.EventResetCompleted, userID, meta)
	writeMessage(w, "Password has been reset successfully")
}
