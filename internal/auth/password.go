package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptSecretHasher hashes client secrets with bcrypt.
type BcryptSecretHasher struct {
	Cost int
}

// NewBcryptSecretHasher creates a new BcryptSecretHasher.
// Default cost is bcrypt.DefaultCost if cost <= 0.
func NewBcryptSecretHasher(cost int) *BcryptSecretHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptSecretHasher{Cost: cost}
}

// Hash generates a bcrypt hash for the given secret.
func (h *BcryptSecretHasher) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash generation failed: %w", err)
	}
	return string(hashed), nil
}

// Verify compares a bcrypt hash with its possible plaintext equivalent.
// Returns nil on success, or bcrypt.ErrMismatchedHashAndPassword.
func (h *BcryptSecretHasher) Verify(hashed, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
}
