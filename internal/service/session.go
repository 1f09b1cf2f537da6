package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ocs-portal/portal-auth/config"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/ports"
)

var (
	// ErrInvalidToken covers every session miss: unknown, expired, idle or revoked.
	ErrInvalidToken = errors.New("invalid or expired session")
	// ErrStoreUnavailable wraps session store failures. Callers must fail closed.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// sessionTokenBytes is the entropy of a session token (256 bits).
const sessionTokenBytes = 32

// SessionID derives the storage key for a session token.
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SessionServiceOptions groups dependencies for SessionService.
type SessionServiceOptions struct {
	Store  ports.SessionStore   // Required
	Config config.SessionConfig // Required: TTL, idle timeout, concurrency cap
	Logger *slog.Logger         // Optional
	Now    func() time.Time     // Optional: clock override for tests
}

// SessionService applies session policy on top of a SessionStore.
type SessionService struct {
	store  ports.SessionStore
	config config.SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionService constructs a new SessionService.
func NewSessionService(opts SessionServiceOptions) (*SessionService, error) {
	if opts.Store == nil {
		return nil, errors.New("SessionStore is required")
	}
	if opts.Config.TTL <= 0 {
		return nil, errors.New("session TTL must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		store:  opts.Store,
		config: opts.Config,
		logger: logger.With("component", "session_service"),
		now:    now,
	}, nil
}

// Policy returns the effective session configuration.
func (s *SessionService) Policy() config.SessionConfig { return s.config }

// NewSession describes the session to create after a successful login.
type NewSession struct {
	UserID      string
	Email       string
	DisplayName string
	Permissions domainauth.PermissionBundle
	IPAddress   string
	UserAgent   string
}

// Create mints a token, persists its session and enforces the per-user
// concurrency cap. The raw token is returned once and never stored.
func (s *SessionService) Create(ctx context.Context, in NewSession) (string, domainauth.Session, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", domainauth.Session{}, errors.New("user ID is required")
	}

	token, err := newSessionToken()
	if err != nil {
		return "", domainauth.Session{}, err
	}

	now := s.now().UTC()
	sess := domainauth.Session{
		ID:           SessionID(token),
		UserID:       in.UserID,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		Permissions:  in.Permissions.Clone(),
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.config.TTL),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return "", domainauth.Session{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if s.config.MaxConcurrent > 0 {
		s.enforceLimit(ctx, sess)
	}
	return token, sess, nil
}

// enforceLimit revokes the user's oldest sessions beyond the cap. The new
// session is never revoked. Failures are logged and do not fail the login.
func (s *SessionService) enforceLimit(ctx context.Context, current domainauth.Session) {
	sessions, err := s.store.ListByUser(ctx, current.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "list user sessions for concurrency cap", "user_id", current.UserID, "error", err)
		return
	}
	if len(sessions) <= s.config.MaxConcurrent {
		return
	}

	others := slices.DeleteFunc(sessions, func(x domainauth.Session) bool { return x.ID == current.ID })
	slices.SortFunc(others, func(a, b domainauth.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	excess := len(others) - (s.config.MaxConcurrent - 1)
	for _, old := range others[:max(excess, 0)] {
		if err := s.store.Delete(ctx, old.ID); err != nil {
			s.logger.WarnContext(ctx, "revoke session over concurrency cap", "user_id", current.UserID, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "revoked session over concurrency cap",
			"user_id", current.UserID,
			"created_at", old.CreatedAt,
		)
	}
}

// Lookup returns the live session for token. Unknown, expired and idle
// sessions all yield ErrInvalidToken; dead records found here are deleted.
func (s *SessionService) Lookup(ctx context.Context, token string) (domainauth.Session, error) {
	if token == "" {
		return domainauth.Session{}, ErrInvalidToken
	}

	sess, err := s.store.Get(ctx, SessionID(token))
	if err != nil {
		if errors.Is(err, domainauth.ErrSessionNotFound) {
			return domainauth.Session{}, ErrInvalidToken
		}
		return domainauth.Session{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	now := s.now()
	if sess.ExpiredAt(now) || sess.IdleAt(now, s.config.IdleTimeout) {
		if err := s.store.Delete(ctx, sess.ID); err != nil {
			s.logger.DebugContext(ctx, "purge dead session", "error", err)
		}
		return domainauth.Session{}, ErrInvalidToken
	}
	return sess, nil
}

// Touch records activity for token. Callers treat failures as non-fatal.
func (s *SessionService) Touch(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.store.Touch(ctx, SessionID(token), s.now().UTC())
}

// Revoke deletes the session for token and returns the record when one
// existed. Revoking an unknown token is not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) (*domainauth.Session, error) {
	if token == "" {
		return nil, nil
	}
	return s.RevokeByID(ctx, SessionID(token))
}

// RevokeByID deletes a session by its ID. It is idempotent.
func (s *SessionService) RevokeByID(ctx context.Context, id string) (*domainauth.Session, error) {
	if id == "" {
		return nil, nil
	}

	var found *domainauth.Session
	sess, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		found = &sess
	case !errors.Is(err, domainauth.ErrSessionNotFound):
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return found, nil
}

// List returns live sessions for the admin listing.
func (s *SessionService) List(ctx context.Context, opts model.SessionListOptions) ([]domainauth.Session, error) {
	opts.Normalize()
	sessions, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

// ListByUser returns the live sessions of one user.
func (s *SessionService) ListByUser(ctx context.Context, userID string) ([]domainauth.Session, error) {
	sessions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

// DeleteExpired removes expired records from stores without native expiry.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now().UTC())
}
