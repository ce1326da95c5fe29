package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propman/internal/apperr"
)

const (
	resetTokenBytes = 32

	// The reset mail is sent while the user row is locked.
	defaultMailTimeout = 10 * time.Second
)

// Notifier sends the account emails. A Welcome failure is logged and
// ignored; a PasswordReset failure aborts the reset request.
type Notifier interface {
	Welcome(ctx context.Context, u *User) error
	PasswordReset(ctx context.Context, u *User, token string) error
}

// Service drives the login state machine:
// unauthenticated -> password verified -> fully authenticated.
// Users without 2FA skip the middle state.
type Service struct {
	Users    UserStore
	Hasher   PasswordHasher
	TOTP     TOTPVerifier
	Tokens   *TokenService
	Notifier Notifier
	Log      logrus.FieldLogger
	ResetTTL time.Duration
	Now      func() time.Time

	// MailTimeout bounds the reset mail send; zero means defaultMailTimeout.
	MailTimeout time.Duration
}

func NewService(users UserStore, hasher PasswordHasher, totp TOTPVerifier, tokens *TokenService, notifier Notifier, log logrus.FieldLogger, resetTTL time.Duration) *Service {
	return &Service{
		Users:    users,
		Hasher:   hasher,
		TOTP:     totp,
		Tokens:   tokens,
		Notifier: notifier,
		Log:      log,
		ResetTTL: resetTTL,
		Now:      time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) mailTimeout() time.Duration {
	if s.MailTimeout > 0 {
		return s.MailTimeout
	}
	return defaultMailTimeout
}

// EmailRegistered reports whether an account already uses email.
func (s *Service) EmailRegistered(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	return s.Users.ExistsByEmail(ctx, email)
}

type LoginResult struct {
	Token            string    `json:"token"`
	Type             string    `json:"type"`
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Roles            []string  `json:"roles"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	Authenticated    bool      `json:"authenticated"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (s *Service) issue(u *User, authenticated bool) (*LoginResult, error) {
	id := IdentityFor(u, authenticated)
	token, expiresAt, err := s.Tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:            token,
		Type:             "Bearer",
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Roles:            id.Authorities(),
		TwoFactorEnabled: u.TwoFactorEnabled,
		Authenticated:    authenticated,
		ExpiresAt:        expiresAt,
	}, nil
}

var errBadCredentials = apperr.BadCredentials("Invalid email or password")

// Login checks the password. Unknown email, wrong password and disabled
// account all fail with the same error. With 2FA on, the token is pending
// until VerifyTwoFactor succeeds.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if u == nil {
		s.Hasher.Compare(dummyHash(), password)
		return nil, errBadCredentials
	}
	if !s.Hasher.Compare(u.PasswordHash, password) || !u.Enabled {
		return nil, errBadCredentials
	}

	res, err := s.issue(u, !u.TwoFactorEnabled)
	if err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{"user_id": u.ID, "authenticated": res.Authenticated}).Info("login: password verified")
	return res, nil
}

// VerifyTwoFactor completes a pending login. The user is taken from the
// pending token itself, never from the request context.
func (s *Service) VerifyTwoFactor(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	claims, err := s.Tokens.Parse(pendingToken)
	if err != nil {
		return nil, apperr.BadRequest("Invalid token")
	}

	u, err := s.Users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("2fa lookup: %w", err)
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	if !u.TwoFactorEnabled || u.TwoFactorSecret == nil {
		return nil, apperr.BadRequest("Two-factor authentication is not enabled")
	}
	if !s.TOTP.Verify(*u.TwoFactorSecret, code) {
		return nil, apperr.BadRequest("Invalid authentication code")
	}

	res, err := s.issue(u, true)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("user_id", u.ID).Info("login: two-factor verified")
	return res, nil
}

type SignupInput struct {
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	Role            string  `json:"role"`
	EnableTwoFactor bool    `json:"enableTwoFactor"`
}

func (in SignupInput) validate() (Role, error) {
	f := fieldErrors{}
	if f.required("firstName", in.FirstName) {
		f.maxLen("firstName", in.FirstName, maxNameLength)
	}
	if f.required("lastName", in.LastName) {
		f.maxLen("lastName", in.LastName, maxNameLength)
	}
	f.email("email", in.Email)
	f.password("password", in.Password)
	f.optional("phone", in.Phone, maxPhoneLength)
	f.optional("address", in.Address, maxAddressLength)

	role := RoleClient
	if strings.TrimSpace(in.Role) != "" {
		var ok bool
		if role, ok = ParseRole(in.Role); !ok {
			f.add("role", "must be one of ADMIN, AGENT, CLIENT")
		}
	}
	return role, f.err()
}

// Signup creates an account. Requesting 2FA enables it right away with a
// new secret; no code is asked for. Creating an ADMIN requires an ADMIN
// caller.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	role, err := in.validate()
	if err != nil {
		return nil, err
	}
	if role == RoleAdmin {
		caller, ok := IdentityFromContext(ctx)
		if !ok || !caller.Authenticated || caller.Role != RoleAdmin {
			return nil, apperr.AccessDenied("Only administrators can create administrator accounts")
		}
	}

	exists, err := s.Users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("signup lookup: %w", err)
	}
	if exists {
		return nil, apperr.Conflict("Email is already taken")
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        NormalizeEmail(in.Email),
		Phone:        in.Phone,
		Address:      in.Address,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
	}
	if in.EnableTwoFactor {
		secret, err := s.TOTP.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate 2fa secret: %w", err)
		}
		u.TwoFactorSecret = &secret
		u.TwoFactorEnabled = true
	}

	created, err := s.Users.Create(ctx, u)
	if errors.Is(err, ErrEmailTaken) {
		return nil, apperr.Conflict("Email is already taken")
	}
	if err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		if err := s.Notifier.Welcome(ctx, created); err != nil {
			s.Log.WithError(err).WithField("user_id", created.ID).Warn("signup: welcome email failed")
		}
	}
	s.Log.WithFields(logrus.Fields{"user_id": created.ID, "role": created.Role}).Info("signup: user created")
	return created, nil
}

// ForgotPassword stores a new single-use reset token and mails it. The
// token is only kept as a digest. A delivery failure rolls the token back
// and fails the request.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	f := fieldErrors{}
	f.email("email", email)
	if err := f.err(); err != nil {
		return err
	}

	_, err := s.Users.UpdateByEmail(ctx, email, func(u *User) error {
		token, err := RandomToken(resetTokenBytes)
		if err != nil {
			return err
		}
		u.SetResetToken(HashString(token), s.now().Add(s.ResetTTL))

		if s.Notifier == nil {
			return errors.New("no notifier configured")
		}
		mailCtx, cancel := context.WithTimeout(ctx, s.mailTimeout())
		defer cancel()
		if err := s.Notifier.PasswordReset(mailCtx, u, token); err != nil {
			return fmt.Errorf("send password reset email: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return apperr.NotFound("User not found with email: %s", email)
	}
	if err != nil {
		return err
	}
	s.Log.WithField("email", NormalizeEmail(email)).Info("password reset: token issued")
	return nil
}

type ResetPasswordInput struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword sets a new password either through a reset token or, for an
// administrator or the account owner, by email. The hash and both token
// fields are written in one statement.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	f := fieldErrors{}
	f.password("newPassword", in.NewPassword)
	if in.Email != "" && !validEmail(in.Email) {
		f.add("email", "Email should be valid")
	}
	if err := f.err(); err != nil {
		return err
	}
	if in.Email == "" && in.Token == "" {
		return apperr.BadRequest("Email or token must be provided")
	}

	hash, err := s.Hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	setPassword := func(u *User) {
		u.PasswordHash = hash
		u.ClearResetToken()
	}

	if in.Token != "" {
		_, err := s.Users.UpdateByResetToken(ctx, HashString(in.Token), func(u *User) error {
			if u.ResetTokenExpired(s.now()) {
				return apperr.BadRequest("Password reset token has expired")
			}
			setPassword(u)
			return nil
		})
		if errors.Is(err, ErrUserNotFound) {
			return apperr.NotFound("Invalid or expired password reset token")
		}
		return err
	}

	caller, ok := IdentityFromContext(ctx)
	if !ok {
		return apperr.Unauthenticated("Authentication required to reset a password by email")
	}
	isOwner := caller.Authenticated && strings.EqualFold(caller.Email, NormalizeEmail(in.Email))
	isAdmin := caller.Authenticated && caller.Role == RoleAdmin
	if !isOwner && !isAdmin {
		return apperr.AccessDenied("You don't have permission to reset this password")
	}

	_, err = s.Users.UpdateByEmail(ctx, in.Email, func(u *User) error {
		setPassword(u)
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return apperr.NotFound("User not found with email: %s", in.Email)
	}
	return err
}

const (
	ProvisioningURI = "uri"
	ProvisioningQR  = "qr"
)

// TwoFactorProvisioning returns the enrollment artifact for userID,
// creating the secret on first use. It never changes the enabled flag, and
// once 2FA is enabled the secret is no longer handed out.
func (s *Service) TwoFactorProvisioning(ctx context.Context, userID int64, format string) (string, error) {
	u, err := s.Users.Update(ctx, userID, func(u *User) error {
		if u.TwoFactorEnabled {
			return apperr.IllegalState("Two-factor authentication is already enabled")
		}
		if u.TwoFactorSecret != nil {
			return nil
		}
		secret, err := s.TOTP.GenerateSecret()
		if err != nil {
			return err
		}
		u.TwoFactorSecret = &secret
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return "", apperr.NotFound("User not found with id: %d", userID)
	}
	if err != nil {
		return "", err
	}

	if format == ProvisioningQR {
		return s.TOTP.QRCodeDataURL(*u.TwoFactorSecret, u.Email)
	}
	return s.TOTP.ProvisioningURI(*u.TwoFactorSecret, u.Email)
}

func (s *Service) EnableTwoFactor(ctx context.Context, userID int64, code string) error {
	_, err := s.Users.Update(ctx, userID, func(u *User) error {
		if u.TwoFactorEnabled {
			return apperr.IllegalState("Two-factor authentication is already enabled")
		}
		if u.TwoFactorSecret == nil {
			return apperr.BadRequest("Two-factor secret has not been generated")
		}
		if !s.TOTP.Verify(*u.TwoFactorSecret, code) {
			return apperr.BadRequest("Invalid authentication code")
		}
		u.TwoFactorEnabled = true
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return apperr.NotFound("User not found with id: %d", userID)
	}
	if err == nil {
		s.Log.WithField("user_id", userID).Info("2fa: enabled")
	}
	return err
}

// DisableTwoFactor turns 2FA off and drops the secret.
func (s *Service) DisableTwoFactor(ctx context.Context, userID int64, code string) error {
	_, err := s.Users.Update(ctx, userID, func(u *User) error {
		if !u.TwoFactorEnabled {
			return apperr.IllegalState("Two-factor authentication is already disabled")
		}
		if u.TwoFactorSecret == nil || !s.TOTP.Verify(*u.TwoFactorSecret, code) {
			return apperr.BadRequest("Invalid authentication code")
		}
		u.DisableTwoFactor()
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return apperr.NotFound("User not found with id: %d", userID)
	}
	if err == nil {
		s.Log.WithField("user_id", userID).Info("2fa: disabled")
	}
	return err
}
