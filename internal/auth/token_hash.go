package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errEmptyToken = errors.New("session token required")

// tokenDigest derives the storage key for a session token. Backing stores
// only ever see the digest, so a leaked key dump cannot be replayed as a
// client token.
func tokenDigest(token string) (string, error) {
	if token == "" {
		return "", errEmptyToken
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}
