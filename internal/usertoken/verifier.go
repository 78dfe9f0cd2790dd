package usertoken

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"journalease/pkg/domain"
)

const (
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var (
	// ErrInvalidToken covers every verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for a session token that was logged out.
	ErrTokenRevoked = errors.New("token revoked")

	errUnknownKey = errors.New("unknown token key")
)

// Revoker tracks logged-out session token IDs.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Config configures token verification for both issuers.
//
// Local tokens are HS256 session tokens minted by Signer. External tokens come
// from the hosted identity provider and carry a UUID subject plus an email
// claim; they are verified either against ExternalSecret (HS256) or against
// the provider's JWKS (RS256) when ExternalJWKSURL is set.
type Config struct {
	LocalSecret string
	LocalIssuer string

	ExternalIssuer   string
	ExternalSecret   string
	ExternalJWKSURL  string
	ExternalAudience string

	Leeway     time.Duration
	Revoker    Revoker
	HTTPClient *http.Client
}

type externalClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier turns bearer tokens into principals.
type Verifier struct {
	localSecret []byte
	localIssuer string

	externalIssuer   string
	externalSecret   []byte
	externalAudience string
	jwksURL          string
	httpClient       *http.Client

	leeway  time.Duration
	revoker Revoker

	mu         sync.RWMutex
	rsaKeys    map[string]any
	keysExpire time.Time
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	localSecret := strings.TrimSpace(cfg.LocalSecret)
	if localSecret == "" {
		return nil, errors.New("token verifier requires a local secret")
	}
	localIssuer := strings.TrimSpace(cfg.LocalIssuer)
	if localIssuer == "" {
		localIssuer = DefaultIssuer
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	v := &Verifier{
		localSecret:      []byte(localSecret),
		localIssuer:      localIssuer,
		externalIssuer:   strings.TrimSpace(cfg.ExternalIssuer),
		externalSecret:   []byte(strings.TrimSpace(cfg.ExternalSecret)),
		externalAudience: strings.TrimSpace(cfg.ExternalAudience),
		jwksURL:          strings.TrimSpace(cfg.ExternalJWKSURL),
		leeway:           leeway,
		revoker:          cfg.Revoker,
	}
	if v.externalIssuer == localIssuer {
		return nil, errors.New("external issuer must differ from the local issuer")
	}
	if v.externalIssuer != "" && v.jwksURL == "" && len(v.externalSecret) == 0 {
		return nil, errors.New("external issuer requires a secret or a jwks url")
	}
	if cfg.HTTPClient != nil {
		v.httpClient = cfg.HTTPClient
	} else {
		v.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if v.externalIssuer != "" && v.jwksURL != "" {
		if err := v.refreshJWKS(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ExternalEnabled reports whether tokens from the identity provider are accepted.
func (v *Verifier) ExternalEnabled() bool {
	return v.externalIssuer != ""
}

// Verify validates a bearer token and describes its principal.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, ErrInvalidToken
	}
	issuer, err := peekIssuer(token)
	if err != nil {
		return domain.Principal{}, err
	}
	switch {
	case issuer == v.localIssuer:
		return v.verifyLocal(ctx, token)
	case v.externalIssuer != "" && issuer == v.externalIssuer:
		return v.verifyExternal(token)
	default:
		return domain.Principal{}, fmt.Errorf("%w: unknown issuer", ErrInvalidToken)
	}
}

// Revoke invalidates a local session token until it would have expired.
func (v *Verifier) Revoke(ctx context.Context, token string) error {
	if v.revoker == nil {
		return nil
	}
	claims, err := v.parseLocal(token)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil || claims.ID == "" {
		return nil
	}
	return v.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (v *Verifier) verifyLocal(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := v.parseLocal(token)
	if err != nil {
		return domain.Principal{}, err
	}
	if v.revoker != nil && claims.ID != "" {
		revoked, err := v.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return domain.Principal{}, err
		}
		if revoked {
			return domain.Principal{}, ErrTokenRevoked
		}
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return domain.Principal{
		Kind:    domain.PrincipalLocal,
		Subject: subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}

func (v *Verifier) parseLocal(token string) (SessionClaims, error) {
	claims := SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.localSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.localIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, wrapInvalid(err)
	}
	return claims, nil
}

func (v *Verifier) verifyExternal(token string) (domain.Principal, error) {
	var (
		claims externalClaims
		err    error
	)
	if v.jwksURL != "" {
		claims, err = v.verifyJWKS(token)
	} else {
		claims, err = v.parseExternal(token, func(*jwt.Token) (any, error) {
			return v.externalSecret, nil
		}, jwt.SigningMethodHS256.Alg())
	}
	if err != nil {
		return domain.Principal{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if _, err := uuid.Parse(subject); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: external subject is not a uuid", ErrInvalidToken)
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return domain.Principal{}, fmt.Errorf("%w: email claim missing", ErrInvalidToken)
	}
	return domain.Principal{Kind: domain.PrincipalExternal, Subject: subject, Email: email}, nil
}

func (v *Verifier) parseExternal(token string, keyFunc jwt.Keyfunc, alg string) (externalClaims, error) {
	claims := externalClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(v.externalIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.externalAudience != "" {
		opts = append(opts, jwt.WithAudience(v.externalAudience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		if errors.Is(err, errUnknownKey) {
			return claims, errUnknownKey
		}
		return claims, wrapInvalid(err)
	}
	return claims, nil
}

func (v *Verifier) verifyJWKS(token string) (externalClaims, error) {
	claims, err := v.parseJWKS(token)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, errUnknownKey) && !v.keysExpired() {
		return claims, err
	}
	if refreshErr := v.refreshJWKS(); refreshErr != nil {
		return claims, refreshErr
	}
	claims, err = v.parseJWKS(token)
	if errors.Is(err, errUnknownKey) {
		return claims, wrapInvalid(err)
	}
	return claims, err
}

func (v *Verifier) parseJWKS(token string) (externalClaims, error) {
	keys := v.copyKeys()
	return v.parseExternal(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errUnknownKey
		}
		key, ok := keys[kid]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	}, jwt.SigningMethodRS256.Alg())
}

func peekIssuer(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", wrapInvalid(err)
	}
	issuer, err := claims.GetIssuer()
	if err != nil {
		return "", wrapInvalid(err)
	}
	return strings.TrimSpace(issuer), nil
}

func wrapInvalid(err error) error {
	if err == nil {
		return ErrInvalidToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

func (v *Verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().UTC().After(v.keysExpire)
}

func (v *Verifier) copyKeys() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.rsaKeys))
	for kid, key := range v.rsaKeys {
		out[kid] = key
	}
	return out
}

func (v *Verifier) refreshJWKS() error {
	req, err := http.NewRequest(http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := make(map[string]any, len(payload.Keys))
	for _, k := range payload.Keys {
		if strings.ToUpper(strings.TrimSpace(k.Kty)) != "RSA" {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := parseCacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}

	v.mu.Lock()
	v.rsaKeys = keys
	v.keysExpire = time.Now().UTC().Add(ttl)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (any, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func parseCacheMaxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimPrefix(part, "max-age=") + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
