package auth

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 10

// dummyHash is compared against when no account matches, so a missing user
// costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), passwordCost)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(bytes), err
}

func CheckPasswordHash(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BurnPasswordCheck performs a throwaway comparison.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// NewRefreshTokenValue returns a fresh opaque refresh token identifier.
func NewRefreshTokenValue() string {
	return uuid.NewString()
}
