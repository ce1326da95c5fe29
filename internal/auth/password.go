package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt reads at most 72 bytes. Passwords may be up to 120 characters, so
// longer input is cut at the same point on hash and on compare.
const bcryptMaxInput = 72

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// BcryptHasher produces $2a$ hashes compatible with rows written by other
// bcrypt implementations of the same cost.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.DefaultCost}
}

func (b *BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b *BcryptHasher) Compare(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}

func bcryptInput(password string) []byte {
	in := []byte(password)
	if len(in) > bcryptMaxInput {
		in = in[:bcryptMaxInput]
	}
	return in
}

// dummyHash is compared against when the email is unknown so that both
// failure paths spend the same bcrypt time.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return string(hash)
})
