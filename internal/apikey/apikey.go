// Package apikey issues, hashes and verifies relay API keys.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix marks relay API keys
	Prefix = "fmr_"

	// secretBytes is the amount of randomness in a key
	secretBytes = 24

	// prefixLen is how much of the plaintext is kept for display ("fmr_" + 8 hex chars)
	prefixLen = len(Prefix) + 8
)

// Generate returns a new random API key
func Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// DisplayPrefix returns the part of a key that is safe to show
func DisplayPrefix(key string) string {
	if len(key) <= prefixLen {
		return key
	}
	return key[:prefixLen]
}

// Hasher hashes keys with a server-side secret
type Hasher struct {
	secret []byte
}

// NewHasher creates a hasher for the given secret
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns the hex HMAC-SHA256 of key
func (h *Hasher) Hash(key string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether key hashes to storedHash, in constant time
func (h *Hasher) Verify(key, storedHash string) bool {
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(key))
	return hmac.Equal(mac.Sum(nil), want)
}

// ParseHeader extracts a key from an Authorization header value.
// The "Bearer " prefix is optional.
func ParseHeader(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "Bearer") && (len(header) == 6 || header[6] == ' ') {
		header = strings.TrimSpace(header[6:])
	}
	return header
}
