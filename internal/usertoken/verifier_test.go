package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"journalease/pkg/domain"
)

const (
	testLocalSecret    = "local-secret-0123456789"
	testExternalSecret = "external-secret-0123456789"
	testExternalIssuer = "https://id.example.com/auth/v1"
	testSubjectUUID    = "2f1b6a52-7d36-4c55-9b0e-3f7f4b1c9a10"
)

type memRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Duration
}

func (r *memRevoker) Revoke(_ context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = make(map[string]time.Duration)
	}
	r.ids[id] = ttl
	return nil
}

func (r *memRevoker) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok, nil
}

func TestNewVerifierRequiresLocalSecret(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing local secret to fail")
	}
	if _, err := NewVerifier(Config{LocalSecret: testLocalSecret, ExternalIssuer: testExternalIssuer}); err == nil {
		t.Fatalf("expected external issuer without key material to fail")
	}
}

func TestLocalSessionRoundTripAndRevoke(t *testing.T) {
	signer, err := NewSigner(SignerOptions{Secret: testLocalSecret})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	revoker := &memRevoker{}
	v, err := NewVerifier(Config{LocalSecret: testLocalSecret, Revoker: revoker})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign(42, "user@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Kind != domain.PrincipalLocal || p.Subject != "42" || p.Email != "user@example.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if err := v.Revoke(context.Background(), token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestLocalSessionRejectsWrongSecretAndAlg(t *testing.T) {
	v, err := NewVerifier(Config{LocalSecret: testLocalSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	other, _ := NewSigner(SignerOptions{Secret: "some-other-secret-value"})
	forged, err := other.Sign(1, "a@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong secret to fail, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    DefaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := v.Verify(context.Background(), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none to fail, got %v", err)
	}
}

func TestExpiredLocalSessionFails(t *testing.T) {
	signer, _ := NewSigner(SignerOptions{Secret: testLocalSecret, TTL: time.Hour})
	signer.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	v, _ := NewVerifier(Config{LocalSecret: testLocalSecret})
	token, err := signer.Sign(3, "a@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func externalToken(t *testing.T, subject, email string) string {
	t.Helper()
	claims := externalClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testExternalIssuer,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testExternalSecret))
	if err != nil {
		t.Fatalf("sign external: %v", err)
	}
	return signed
}

func TestExternalHS256Principal(t *testing.T) {
	v, err := NewVerifier(Config{
		LocalSecret:      testLocalSecret,
		ExternalIssuer:   testExternalIssuer,
		ExternalSecret:   testExternalSecret,
		ExternalAudience: "authenticated",
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	p, err := v.Verify(context.Background(), externalToken(t, testSubjectUUID, "Person@Example.com"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !p.External() || p.Subject != testSubjectUUID || p.Email != "person@example.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := v.Verify(context.Background(), externalToken(t, "123", "p@example.com")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected non-uuid subject to fail, got %v", err)
	}
	if _, err := v.Verify(context.Background(), externalToken(t, testSubjectUUID, "")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing email to fail, got %v", err)
	}
}

func TestExternalTokenRejectedWhenNotConfigured(t *testing.T) {
	v, _ := NewVerifier(Config{LocalSecret: testLocalSecret})
	if _, err := v.Verify(context.Background(), externalToken(t, testSubjectUUID, "p@example.com")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown issuer to fail, got %v", err)
	}
}

func TestExternalJWKSRefreshOnUnknownKid(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key1: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}

	var mu sync.Mutex
	active := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		kid := active
		mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=300")
		resp := map[string]any{"keys": []map[string]string{toJWK(kid, publicKeyByKid(kid, key1.PublicKey, key2.PublicKey))}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{
		LocalSecret:     testLocalSecret,
		ExternalIssuer:  testExternalIssuer,
		ExternalJWKSURL: jwksServer.URL,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	sign := func(kid string, key *rsa.PrivateKey) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, externalClaims{
			Email: "p@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   testSubjectUUID,
				Issuer:    testExternalIssuer,
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		})
		token.Header["kid"] = kid
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign %s: %v", kid, err)
		}
		return signed
	}

	if _, err := v.Verify(context.Background(), sign("kid-1", key1)); err != nil {
		t.Fatalf("verify kid-1: %v", err)
	}

	mu.Lock()
	active = "kid-2"
	mu.Unlock()
	if p, err := v.Verify(context.Background(), sign("kid-2", key2)); err != nil || p.Subject != testSubjectUUID {
		t.Fatalf("verify kid-2 after rotation: p=%+v err=%v", p, err)
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=60"); got != time.Minute {
		t.Fatalf("max-age = %v, want 1m", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("expected zero for missing max-age, got %v", got)
	}
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func publicKeyByKid(kid string, key1, key2 rsa.PublicKey) rsa.PublicKey {
	if kid == "kid-2" {
		return key2
	}
	return key1
}
