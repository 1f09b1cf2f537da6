// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

// BeginInput carries the caller-generated anti-forgery values for an auth flow.
type BeginInput struct {
	State string
	Nonce string
}

// AuthProvider initiates and completes an authentication flow against an IdP.
type AuthProvider interface {
	// Begin returns the provider authorization URL carrying state and nonce.
	Begin(ctx context.Context, in BeginInput) (authURL string, err error)

	// Exchange redeems an authorization code, verifies the nonce and returns
	// the identity with its groups and raw profile attributes.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	Nonce string
}

// SessionStore persists and retrieves user sessions keyed by session ID.
//
// Get returns domainauth.ErrSessionNotFound for absent or expired records.
// Touch must not recreate a session that was deleted concurrently, and
// Delete is idempotent.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]domainauth.Session, error)
	List(ctx context.Context, opts model.SessionListOptions) ([]domainauth.Session, error)
	// DeleteExpired removes sessions whose absolute expiry is before now and
	// returns how many were removed. Stores with native expiry may return 0.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
