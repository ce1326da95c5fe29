package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"propman/internal/apperr"
)

// Accounts is user management for administrators and the profile
// operations a user performs on their own row.
type Accounts struct {
	Users  UserStore
	Hasher PasswordHasher
	Log    logrus.FieldLogger
}

func NewAccounts(users UserStore, hasher PasswordHasher, log logrus.FieldLogger) *Accounts {
	return &Accounts{Users: users, Hasher: hasher, Log: log}
}

func (a *Accounts) List(ctx context.Context) ([]User, error) {
	return a.Users.List(ctx)
}

func (a *Accounts) ListByRole(ctx context.Context, role string) ([]User, error) {
	r, ok := ParseRole(role)
	if !ok {
		return nil, apperr.BadRequest("Invalid role: %s", role)
	}
	return a.Users.ListByRole(ctx, r)
}

func (a *Accounts) Get(ctx context.Context, id int64) (*User, error) {
	u, err := a.Users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found with id: %d", id)
	}
	return u, nil
}

func (a *Accounts) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := a.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found with email: %s", email)
	}
	return u, nil
}

type ProfileInput struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
}

func (in ProfileInput) validate() error {
	f := fieldErrors{}
	if f.required("firstName", in.FirstName) {
		f.maxLen("firstName", in.FirstName, maxNameLength)
	}
	if f.required("lastName", in.LastName) {
		f.maxLen("lastName", in.LastName, maxNameLength)
	}
	f.optional("phone", in.Phone, maxPhoneLength)
	f.optional("address", in.Address, maxAddressLength)
	return f.err()
}

// UpdateProfile replaces names, phone and address. Email, role and
// credentials have their own operations.
func (a *Accounts) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (*User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	u, err := a.Users.Update(ctx, id, func(u *User) error {
		u.FirstName = strings.TrimSpace(in.FirstName)
		u.LastName = strings.TrimSpace(in.LastName)
		u.Phone = in.Phone
		u.Address = in.Address
		return nil
	})
	return u, a.notFound(err, id)
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *Accounts) ChangePassword(ctx context.Context, id int64, in ChangePasswordInput) error {
	f := fieldErrors{}
	f.required("currentPassword", in.CurrentPassword)
	f.password("newPassword", in.NewPassword)
	if err := f.err(); err != nil {
		return err
	}

	hash, err := a.Hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = a.Users.Update(ctx, id, func(u *User) error {
		if !a.Hasher.Compare(u.PasswordHash, in.CurrentPassword) {
			return apperr.BadRequest("Current password is incorrect")
		}
		u.PasswordHash = hash
		u.ClearResetToken()
		return nil
	})
	if err == nil {
		a.Log.WithField("user_id", id).Info("account: password changed")
	}
	return a.notFound(err, id)
}

// ChangeRole sets the role of another user. Administrators cannot change
// their own role.
func (a *Accounts) ChangeRole(ctx context.Context, id int64, role string) (*User, error) {
	r, ok := ParseRole(role)
	if !ok {
		return nil, apperr.BadRequest("Invalid role: %s", role)
	}
	if caller, ok := IdentityFromContext(ctx); ok && caller.UserID == id {
		return nil, apperr.IllegalState("You cannot change your own role")
	}

	u, err := a.Users.Update(ctx, id, func(u *User) error {
		u.Role = r
		return nil
	})
	if err == nil {
		a.Log.WithFields(logrus.Fields{"user_id": id, "role": r}).Info("account: role changed")
	}
	return u, a.notFound(err, id)
}

func (a *Accounts) Delete(ctx context.Context, id int64) error {
	if caller, ok := IdentityFromContext(ctx); ok && caller.UserID == id {
		return apperr.IllegalState("You cannot delete your own account")
	}
	err := a.Users.Delete(ctx, id)
	if err == nil {
		a.Log.WithField("user_id", id).Info("account: user deleted")
	}
	return a.notFound(err, id)
}

func (a *Accounts) notFound(err error, id int64) error {
	if errors.Is(err, ErrUserNotFound) {
		return apperr.NotFound("User not found with id: %d", id)
	}
	return err
}
