// Package trusttoken issues and verifies the signed claim sets that carry an
// authenticated user's permission snapshot across service boundaries.
package trusttoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ocs-portal/portal-auth/config"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
)

var (
	// ErrSignature covers every verification failure other than expiry,
	// including malformed and tampered tokens.
	ErrSignature = errors.New("trust token signature invalid")
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("trust token expired")
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("trust tokens are not configured")
)

// Claims is the trust token payload.
type Claims struct {
	Email       string                      `json:"email,omitempty"`
	Permissions domainauth.PermissionBundle `json:"perm"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims grant at least required on category.
func HasPermission(c *Claims, category domainauth.Category, required domainauth.AccessLevel) bool {
	if c == nil {
		return false
	}
	return domainauth.HasPermission(c.Permissions, category, required)
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the signer's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// Signer issues and verifies HMAC-signed trust tokens.
type Signer struct {
	key      []byte
	method   jwt.SigningMethod
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewSigner builds a Signer from configuration.
func NewSigner(cfg config.TrustTokenConfig, opts ...Option) (*Signer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported trust token algorithm %q", cfg.Algorithm)
	}

	s := &Signer{
		key:      []byte(cfg.Secret),
		method:   method,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		s.ttl = 5 * time.Minute
	}
	return s, nil
}

// TTL returns the default token lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject carrying bundle. A non-positive ttl uses
// the configured default.
func (s *Signer) Issue(subject, email string, bundle domainauth.PermissionBundle, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("trust token subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		Email:       email,
		Permissions: bundle.Clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign trust token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks a token against the signer's clock.
func (s *Signer) Verify(token string) (*Claims, error) {
	return s.VerifyAt(token, s.now())
}

// VerifyAt checks signature, algorithm, issuer, audience and time claims as
// of now. The signature is checked before any claim is read.
func (s *Signer) VerifyAt(token string, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	switch {
	case err == nil && parsed.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, ErrSignature
	}
}
