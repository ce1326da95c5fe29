package auth

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already taken")
)

// UserStore is the credential store. Finders return (nil, nil) when no row
// matches. The Update variants lock the row, hand it to fn and persist the
// result in the same transaction; an error from fn discards the change.
type UserStore interface {
	Create(ctx context.Context, u *User) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context) ([]User, error)
	ListByRole(ctx context.Context, role Role) ([]User, error)
	Update(ctx context.Context, id int64, fn func(*User) error) (*User, error)
	UpdateByEmail(ctx context.Context, email string, fn func(*User) error) (*User, error)
	UpdateByResetToken(ctx context.Context, digest string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, id int64) error
}
