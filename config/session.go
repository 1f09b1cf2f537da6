package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SessionBackend selects the session store implementation.
type SessionBackend string

const (
	SessionBackendRedis    SessionBackend = "redis"
	SessionBackendPostgres SessionBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for SessionBackend.
func (b *SessionBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "redis", "postgres":
		*b = SessionBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid SessionBackend: %q (valid options: redis, postgres)", v)
	}
}

const defaultSessionCookieName = "session_token"

// SessionConfig controls server-side session policy.
type SessionConfig struct {
	Backend SessionBackend `env:"BACKEND" envDefault:"redis"`

	CookieName   string `env:"COOKIE_NAME"   envDefault:"session_token"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`

	// TTL is the absolute lifetime of a session from creation.
	TTL time.Duration `env:"TTL" envDefault:"8h"`

	// IdleTimeout expires sessions without activity for this long. 0 disables it.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"30m"`

	// MaxConcurrent caps live sessions per user; the oldest are revoked. 0 means unlimited.
	MaxConcurrent int `env:"MAX_CONCURRENT" envDefault:"3"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.CookieName = strings.TrimSpace(s.CookieName); s.CookieName == "" {
		s.CookieName = defaultSessionCookieName
	}
	if s.TTL < time.Minute {
		s.TTL = time.Minute
	}
	if s.IdleTimeout < 0 {
		s.IdleTimeout = 0
	}
	if s.MaxConcurrent < 0 {
		s.MaxConcurrent = 0
	}
}

// minTrustSecretLen is the minimum HMAC key length in bytes.
const minTrustSecretLen = 32

// TrustTokenConfig controls inter-service trust tokens. Signing is disabled
// when Secret is empty.
type TrustTokenConfig struct {
	Secret    string        `env:"SECRET"`
	Algorithm string        `env:"ALGORITHM" envDefault:"HS256"`
	TTL       time.Duration `env:"TTL"       envDefault:"5m"`
	Issuer    string        `env:"ISSUER"    envDefault:"portal-auth"`
	Audience  string        `env:"AUDIENCE"  envDefault:"portal-services"`
	// Leeway tolerates clock skew between services on exp/nbf/iat. Zero
	// rejects a token the moment it expires.
	Leeway    time.Duration `env:"LEEWAY"    envDefault:"0s"`
}

// Enabled reports whether trust tokens can be issued and verified.
func (t *TrustTokenConfig) Enabled() bool { return t.Secret != "" }

// Sanitize normalizes the algorithm name and clamps durations.
func (t *TrustTokenConfig) Sanitize() {
	t.Algorithm = strings.ToUpper(strings.TrimSpace(t.Algorithm))
	if t.Algorithm == "" {
		t.Algorithm = "HS256"
	}
	if t.TTL <= 0 {
		t.TTL = 5 * time.Minute
	}
	if t.Leeway < 0 {
		t.Leeway = 0
	}
}

// Validate rejects weak secrets and unsupported algorithms.
func (t *TrustTokenConfig) Validate() error {
	if !t.Enabled() {
		return nil
	}
	if len(t.Secret) < minTrustSecretLen {
		return fmt.Errorf("TRUST_TOKEN_SECRET must be at least %d bytes", minTrustSecretLen)
	}
	if !slices.Contains([]string{"HS256", "HS384", "HS512"}, t.Algorithm) {
		return errors.New("TRUST_TOKEN_ALGORITHM must be one of HS256, HS384, HS512")
	}
	return nil
}

// AuditConfig controls the authentication audit log.
type AuditConfig struct {
	Enabled   bool          `env:"ENABLED"    envDefault:"true"`
	Retention time.Duration `env:"RETENTION"  envDefault:"2160h"` // 90 days
	BatchSize int           `env:"BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to audit configuration values.
func (a *AuditConfig) Sanitize() {
	if a.Retention < 24*time.Hour {
		a.Retention = 24 * time.Hour
	}
	if a.BatchSize < 1 {
		a.BatchSize = 1
	}
	if a.BatchSize > 10000 {
		a.BatchSize = 10000
	}
}

// SweeperConfig controls the background maintenance loop.
type SweeperConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`
}

// Sanitize enforces a minimum interval to prevent excessive store load.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < 30*time.Second {
		s.Interval = 30 * time.Second
	}
}
