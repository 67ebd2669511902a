package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 24 * time.Hour

// TokenClaims is the identity payload embedded in a session token.
type TokenClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Level    string `json:"level"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies stateless HS256 session tokens. The
// secret is process-wide configuration; rotating it invalidates every
// outstanding token. There is no server-side revocation: logout is a
// client-side discard and a stolen token stays valid until its embedded
// expiry.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithIssuer overrides the issuer claim stamped into tokens.
func WithIssuer(issuer string) TokenOption {
	return func(m *TokenManager) {
		if iss := strings.TrimSpace(issuer); iss != "" {
			m.issuer = iss
		}
	}
}

// WithTokenClock overrides the time source, for tests.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewTokenManager constructs a TokenManager. A ttl of zero selects the
// default lifetime.
func NewTokenManager(secret string, ttl time.Duration, opts ...TokenOption) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	m := &TokenManager{
		secret: []byte(secret),
		issuer: "econlab",
		ttl:    ttl,
		now:    time.Now,
	}
	if m.ttl == 0 {
		m.ttl = defaultTokenTTL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured default token lifetime.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Issue signs a token carrying the user's identity claims. A ttl of zero
// selects the configured default; a negative ttl produces an
// already-expired token, which Verify will reject.
func (m *TokenManager) Issue(u *User, ttl time.Duration) (string, time.Time, error) {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return "", time.Time{}, errors.New("auth: user is required")
	}
	if ttl == 0 {
		ttl = m.ttl
	}
	now := m.now().UTC()
	expiresAt := now.Add(ttl)
	claims := TokenClaims{
		Email:    u.Email,
		Username: u.Username,
		Level:    u.Level,
		TenantID: u.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, structure and expiry and returns the embedded
// claims. It is a pure function of the token and the shared secret; no
// lookup happens here.
func (m *TokenManager) Verify(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := m.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *TokenManager) validateClaims(claims *TokenClaims) error {
	if claims.Issuer != m.issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := m.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
