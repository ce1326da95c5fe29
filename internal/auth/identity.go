package auth

import "context"

// Identity is the caller as established by a verified bearer token.
// Authenticated is false between a correct password and a correct 2FA code.
type Identity struct {
	UserID        int64
	Email         string
	Role          Role
	Authenticated bool
}

func IdentityFor(u *User, authenticated bool) Identity {
	return Identity{
		UserID:        u.ID,
		Email:         u.Email,
		Role:          u.Role,
		Authenticated: authenticated,
	}
}

func (i Identity) Authorities() []string {
	return []string{i.Role.Authority()}
}

func (i Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
