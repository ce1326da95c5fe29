package server

import (
	"errors"
	"net/http"
	"strings"

	"propman/internal/apperr"
	"propman/internal/auth"
	"propman/internal/metrics"
)

// twoFactorTarget resolves {userId} and checks that the caller may manage
// that user's 2FA: the user themselves or an administrator. A pending login
// token only ever reaches /verify-2fa.
func (s *Server) twoFactorTarget(r *http.Request) (int64, error) {
	userID, err := pathID(r, "userId")
	if err != nil {
		return 0, err
	}
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return 0, apperr.Unauthenticated("Full authentication is required to access this resource")
	}
	if !caller.Authenticated {
		return 0, apperr.AccessDenied("Two-factor verification required")
	}
	if caller.UserID != userID && caller.Role != auth.RoleAdmin {
		return 0, apperr.AccessDenied("You cannot manage two-factor authentication for another user")
	}
	return userID, nil
}

// checkTwoFactorCode runs a code-consuming operation under the same per-user
// lockout as /verify-2fa. Rejected codes count towards it.
func (s *Server) checkTwoFactorCode(r *http.Request, op string, userID int64, fn func(code string) error) error {
	code, err := twoFactorCode(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	if s.RateLimiter.TwoFactorLocked(ctx, userID) {
		s.Metrics.TwoFactor(op, metrics.ResultLocked)
		return apperr.TooManyRequests("Too many invalid codes. Try again later.")
	}

	if err := fn(code); err != nil {
		s.Metrics.TwoFactor(op, metrics.ResultFailure)
		if errors.Is(err, apperr.ErrBadRequest) {
			s.audit(r, auth.EventTwoFactorFailure, userID, map[string]any{"op": op})
			if _, rlErr := s.RateLimiter.Register2FAFailure(ctx, userID); rlErr != nil {
				s.Log.WithError(rlErr).Warn("2fa: rate limit update failed")
			}
		}
		return err
	}

	s.RateLimiter.Reset2FA(ctx, userID)
	s.Metrics.TwoFactor(op, metrics.ResultSuccess)
	return nil
}

func twoFactorCode(r *http.Request) (string, error) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		return "", apperr.BadRequest("Required parameter 'code' is missing")
	}
	return code, nil
}

func (s *Server) handleTwoFactorGenerate(w http.ResponseWriter, r *http.Request) {
	userID, err := s.twoFactorTarget(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	format := auth.ProvisioningURI
	if r.URL.Query().Get("format") == auth.ProvisioningQR {
		format = auth.ProvisioningQR
	}
	out, err := s.Auth.TwoFactorProvisioning(r.Context(), userID, format)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	userID, err := s.twoFactorTarget(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	err = s.checkTwoFactorCode(r, "enable", userID, func(code string) error {
		return s.Auth.EnableTwoFactor(r.Context(), userID, code)
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.audit(r, auth.EventTwoFactorEnabled, userID, nil)
	writeMessage(w, "Two-factor authentication enabled successfully")
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	userID, err := s.twoFactorTarget(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	err = s.checkTwoFactorCode(r, "disable", userID, func(code string) error {
		return s.Auth.DisableTwoFactor(r.Context(), userID, code)
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.audit(r, auth.EventTwoFactorDisable, userID, nil)
	writeMessage(w, "Two-factor authentication disabled successfully")
}
