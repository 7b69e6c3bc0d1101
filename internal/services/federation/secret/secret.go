// Package secret generates and compares federation trust tokens.
//
// Tokens correlate handshake callbacks and authenticate heartbeats, so they
// must be unguessable and compared without timing side-channels.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// KeyBytes is the entropy of a generated trust token. 32 bytes keeps the
// token well above the 128-bit floor required for secret-based correlation.
const KeyBytes = 32

// NewKey returns a hex-encoded random trust token.
func NewKey() (string, error) {
	raw := make([]byte, KeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Match reports whether two tokens are equal in constant time. Both inputs
// are hashed first so the comparison cost does not depend on their lengths
// or contents.
func Match(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	hashA := sha256.Sum256([]byte(a))
	hashB := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(hashA[:], hashB[:]) == 1
}
