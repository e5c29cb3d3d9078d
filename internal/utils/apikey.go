package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// API keys look like "op_<48 hex chars>". The raw key is shown to the user
// once; the database keeps a bcrypt hash plus the short prefix used to find
// the candidate row on lookup.

const apiKeyPrefixLen = 11 // "op_" + 8 hex chars

// NewAPIKey generates a fresh API key and returns the raw key together with
// its lookup prefix.
func NewAPIKey() (raw, prefix string, err error) {
	hexPart, err := RandomHex(24)
	if err != nil {
		return "", "", err
	}
	raw = "op_" + hexPart
	return raw, raw[:apiKeyPrefixLen], nil
}

// APIKeyPrefix returns the lookup prefix for a presented key, or "" when the
// key is too short to be valid.
func APIKeyPrefix(raw string) string {
	if len(raw) < apiKeyPrefixLen || !strings.HasPrefix(raw, "op_") {
		return ""
	}
	return raw[:apiKeyPrefixLen]
}

// HashAPIKey returns the bcrypt hash stored at rest.
func HashAPIKey(raw string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyAPIKey safely compares a stored hash and a presented key.
func VerifyAPIKey(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
