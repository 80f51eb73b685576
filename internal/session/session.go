// Package session signs and verifies admin session tokens.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalid is returned for malformed or tampered tokens
	ErrInvalid = errors.New("invalid session")

	// ErrExpired is returned for tokens past their expiry
	ErrExpired = errors.New("session expired")
)

// Config contains session settings
type Config struct {
	Secret      string        // HMAC key, at least 32 characters
	TTL         time.Duration // Token lifetime
	SiteKey     string        // Plain admin site key
	SiteKeyHash string        // bcrypt hash of the admin site key
}

// Claims is the signed payload of a session token
type Claims struct {
	Authenticated bool  `json:"authenticated"`
	ExpiresAt     int64 `json:"expiresAt"` // Unix milliseconds
}

// Expiry returns the expiry as time
func (c *Claims) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// Manager issues and verifies admin sessions
type Manager struct {
	secret      []byte
	ttl         time.Duration
	siteKey     []byte
	siteKeyHash []byte
	now         func() time.Time
}

// NewManager creates a session manager
func NewManager(cfg Config) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret:      []byte(cfg.Secret),
		ttl:         ttl,
		siteKey:     []byte(cfg.SiteKey),
		siteKeyHash: []byte(cfg.SiteKeyHash),
		now:         time.Now,
	}
}

// TTL returns the session lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Configured reports whether a site key is set
func (m *Manager) Configured() bool {
	return len(m.siteKey) > 0 || len(m.siteKeyHash) > 0
}

// CheckSiteKey compares a candidate with the configured site key.
// Without a configured key every candidate is rejected.
func (m *Manager) CheckSiteKey(candidate string) bool {
	if candidate == "" {
		return false
	}
	if len(m.siteKeyHash) > 0 {
		return bcrypt.CompareHashAndPassword(m.siteKeyHash, []byte(candidate)) == nil
	}
	if len(m.siteKey) > 0 {
		return subtle.ConstantTimeCompare(m.siteKey, []byte(candidate)) == 1
	}
	return false
}

// Issue creates a signed token for the admin
func (m *Manager) Issue() (string, *Claims, error) {
	claims := &Claims{
		Authenticated: true,
		ExpiresAt:     m.now().Add(m.ttl).UnixMilli(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.sign(encoded), claims, nil
}

// Verify checks the signature, the authenticated flag and the expiry of a token
func (m *Manager) Verify(token string) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrInvalid
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrInvalid
	}
	if !hmac.Equal(got, m.mac(encoded)) {
		return nil, ErrInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalid
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || !claims.Authenticated {
		return nil, ErrInvalid
	}

	if !m.now().Before(claims.Expiry()) {
		return nil, ErrExpired
	}

	return &claims, nil
}

func (m *Manager) mac(data string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func (m *Manager) sign(data string) string {
	return base64.RawURLEncoding.EncodeToString(m.mac(data))
}
