package usertoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the lifetime of a locally issued session token.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultIssuer identifies locally issued session tokens.
	DefaultIssuer = "journal-ease"
)

// SessionClaims are the claims carried by locally issued session tokens.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues HS256 session tokens for local accounts.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOptions configures session signing.
type SignerOptions struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// NewSigner creates a session signer.
func NewSigner(opts SignerOptions) (*Signer, error) {
	secret := strings.TrimSpace(opts.Secret)
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Signer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Sign issues a session token for the local user.
func (s *Signer) Sign(userID int64, email string) (string, error) {
	if userID <= 0 {
		return "", errors.New("session subject must be a positive user id")
	}
	now := s.now().UTC()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        randomHexID(12),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// TTL returns the configured session lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func randomHexID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
