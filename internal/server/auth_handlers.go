package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"propman/internal/apperr"
	"propman/internal/auth"
	"propman/internal/metrics"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req loginRequest) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "must not be blank"
	}
	if req.Password == "" {
		fields["password"] = "must not be blank"
	}
	return apperr.Validation(fields)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if s.RateLimiter.IsIPBanned(ctx, ip) {
		s.Metrics.Login(metrics.ResultLocked)
		s.writeAppError(w, r, apperr.TooManyRequests("Too many failed login attempts. Try again later."))
		return
	}

	res, err := s.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrBadCredentials) {
			s.Metrics.Login(metrics.ResultFailure)
			s.audit(r, auth.EventLoginFailure, 0, map[string]any{"email": auth.NormalizeEmail(req.Email)})
			banned, rlErr := s.RateLimiter.RegisterLoginFailure(ctx, ip)
			if rlErr != nil {
				s.Log.WithError(rlErr).Warn("login: rate limit update failed")
			} else if banned {
				s.Log.WithField("ip", ip).Warn("login: address banned after repeated failures")
			}
		}
		s.writeAppError(w, r, err)
		return
	}

	s.RateLimiter.ResetLogin(ctx, ip)
	if res.Authenticated {
		s.Metrics.Login(metrics.ResultSuccess)
		s.audit(r, auth.EventLoginSuccess, res.ID, nil)
	} else {
		s.Metrics.Login(metrics.ResultPending)
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyTwoFactorRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(req.Code) == "" {
		fields["code"] = "must not be blank"
	}
	if strings.TrimSpace(req.Token) == "" {
		fields["token"] = "must not be blank"
	}
	if err := apperr.Validation(fields); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	userID, _ := s.Tokens.UserIDFromToken(req.Token)
	if userID != 0 && s.RateLimiter.TwoFactorLocked(ctx, userID) {
		s.Metrics.TwoFactor("verify", metrics.ResultLocked)
		s.writeAppError(w, r, apperr.TooManyRequests("Too many invalid codes. Try again later."))
		return
	}

	res, err := s.Auth.VerifyTwoFactor(ctx, req.Token, req.Code)
	if err != nil {
		if userID != 0 && errors.Is(err, apperr.ErrBadRequest) {
			s.Metrics.TwoFactor("verify", metrics.ResultFailure)
			s.audit(r, auth.EventTwoFactorFailure, userID, nil)
			if _, rlErr := s.RateLimiter.Register2FAFailure(ctx, userID); rlErr != nil {
				s.Log.WithError(rlErr).Warn("2fa: rate limit update failed")
			}
		}
		s.writeAppError(w, r, err)
		return
	}

	s.RateLimiter.Reset2FA(ctx, res.ID)
	s.Metrics.TwoFactor("verify", metrics.ResultSuccess)
	s.audit(r, auth.EventTwoFactorSuccess, res.ID, nil)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)

	// A registered email is a conflict no matter how often it is retried,
	// so it is answered before the throttle counts the attempt.
	taken, err := s.Auth.EmailRegistered(ctx, req.Email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if taken {
		s.Metrics.Signup(metrics.ResultFailure)
		s.writeAppError(w, r, apperr.Conflict("Email is already taken"))
		return
	}

	locked, _, err := s.RateLimiter.RegisterSignupAttempt(ctx, req.Email, ip)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if locked {
		s.Metrics.Signup(metrics.ResultLocked)
		s.writeAppError(w, r, apperr.TooManyRequests("Too many signup attempts. Try again later."))
		return
	}

	user, err := s.Auth.Signup(ctx, req)
	if err != nil {
		s.Metrics.Signup(metrics.ResultFailure)
		s.writeAppError(w, r, err)
		return
	}

	s.Metrics.Signup(metrics.ResultSuccess)
	s.audit(r, auth.EventSignup, user.ID, map[string]any{
		"role":      string(user.Role),
		"twoFactor": user.TwoFactorEnabled,
	})
	s.Log.WithFields(logrus.Fields{"user_id": user.ID, "ip": ip}).Debug("signup: completed")

	resp := signupResponse{messageResponse: messageResponse{Message: "User registered successfully", Success: true}}
	if user.TwoFactorEnabled && user.TwoFactorSecret != nil {
		// The registrant's only chance to enroll: provisioning is closed
		// once 2FA is on.
		uri, err := s.Auth.TOTP.ProvisioningURI(*user.TwoFactorSecret, user.Email)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		resp.TwoFactorURI = uri
	}
	writeJSON(w, http.StatusOK, resp)
}

type signupResponse struct {
	messageResponse
	TwoFactorURI string `json:"twoFactorUri,omitempty"`
}
