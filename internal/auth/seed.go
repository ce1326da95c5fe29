package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// SeedAdmin creates the bootstrap administrator unless the email is
// already registered. It reports whether a user was created.
func SeedAdmin(ctx context.Context, users UserStore, hasher PasswordHasher, seed AdminSeed, log logrus.FieldLogger) (bool, error) {
	exists, err := users.ExistsByEmail(ctx, seed.Email)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	if exists {
		log.WithField("email", seed.Email).Debug("seed: admin already present")
		return false, nil
	}

	hash, err := hasher.Hash(seed.Password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	phone := "System Admin"
	address := "System Address"

	u, err := users.Create(ctx, &User{
		FirstName:    seed.FirstName,
		LastName:     seed.LastName,
		Email:        NormalizeEmail(seed.Email),
		Phone:        &phone,
		Address:      &address,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Enabled:      true,
	})
	if errors.Is(err, ErrEmailTaken) {
		// another instance won the race
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email}).Info("seed: admin user created")
	return true, nil
}
