package auth

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleAgent  Role = "AGENT"
	RoleClient Role = "CLIENT"
)

// Authority is the role as it appears in token claims and login responses.
func (r Role) Authority() string {
	return "ROLE_" + string(r)
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleClient:
		return true
	}
	return false
}

// ParseRole accepts "admin", "ADMIN" and "ROLE_ADMIN".
func ParseRole(s string) (Role, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "ROLE_")
	r := Role(s)
	return r, r.Valid()
}

type User struct {
	ID                       int64
	FirstName                string
	LastName                 string
	Email                    string
	Phone                    *string
	PasswordHash             string
	Address                  *string
	Role                     Role
	Enabled                  bool
	TwoFactorEnabled         bool
	TwoFactorSecret          *string
	PasswordResetToken       *string
	PasswordResetTokenExpiry *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// SetResetToken stores the digest of a reset token and its expiry together.
func (u *User) SetResetToken(digest string, expiry time.Time) {
	u.PasswordResetToken = &digest
	u.PasswordResetTokenExpiry = &expiry
}

func (u *User) ClearResetToken() {
	u.PasswordResetToken = nil
	u.PasswordResetTokenExpiry = nil
}

func (u *User) ResetTokenExpired(now time.Time) bool {
	return u.PasswordResetTokenExpiry == nil || !now.Before(*u.PasswordResetTokenExpiry)
}

// DisableTwoFactor clears the flag and the secret; a later enable starts a
// fresh enrollment.
func (u *User) DisableTwoFactor() {
	u.TwoFactorEnabled = false
	u.TwoFactorSecret = nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
