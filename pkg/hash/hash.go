// Package hash wraps bcrypt for the user store's password hashing,
// adapted from the teacher's pkg/hash to use the unified mqtterr type.
package hash

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// DefaultCost is used when the config does not override bcrypt's cost.
const DefaultCost = bcrypt.DefaultCost

func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", mqtterr.Wrap(mqtterr.KindStorageFatal, "hash.HashPassword", 0, err)
	}
	return string(hashed), nil
}

func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
