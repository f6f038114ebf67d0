// ABOUTME: Static API key verification backed by a bcrypt hash
// ABOUTME: Supports hashing new keys for the init subcommand

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned when a presented key does not match the hash.
var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyVerifier checks presented keys against a stored bcrypt hash.
type APIKeyVerifier struct {
	hash []byte
}

// NewAPIKeyVerifier creates a verifier for the given bcrypt hash. An empty
// hash yields a verifier that rejects every key.
func NewAPIKeyVerifier(hash string) *APIKeyVerifier {
	return &APIKeyVerifier{hash: []byte(hash)}
}

// Verify compares the presented key against the stored hash.
func (v *APIKeyVerifier) Verify(key string) error {
	if len(v.hash) == 0 {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey produces a bcrypt hash suitable for the auth.api_key_hash
// config field.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
