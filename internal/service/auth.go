package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ocs-portal/portal-auth/internal/core"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/observability/metrics"
	"github.com/ocs-portal/portal-auth/internal/observability/statsd"
	"github.com/ocs-portal/portal-auth/internal/ports"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

var (
	// ErrStateMismatch means the callback state did not match the issued one.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrExchange wraps identity provider failures during code redemption.
	ErrExchange = errors.New("identity exchange failed")
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider ports.AuthProvider  // Required
	Sessions *SessionService     // Required
	Rules    core.RuleRepository // Required: rule table read on every login
	Audit    *AuditService       // Optional
	Trust    *trusttoken.Signer  // Optional: enables IssueTrustToken
	Logger   *slog.Logger        // Optional
	Metrics  statsd.Sink         // Optional
}

// AuthService orchestrates authentication flows by coordinating the identity
// provider, the permission rule matcher and session persistence.
type AuthService struct {
	provider ports.AuthProvider
	sessions *SessionService
	rules    core.RuleRepository
	audit    *AuditService
	trust    *trusttoken.Signer
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("AuthProvider is required")
	case opts.Sessions == nil:
		return nil, errors.New("SessionService is required")
	case opts.Rules == nil:
		return nil, errors.New("RuleRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		provider: opts.Provider,
		sessions: opts.Sessions,
		rules:    opts.Rules,
		audit:    opts.Audit,
		trust:    opts.Trust,
		logger:   logger.With("component", "auth_service"),
		metrics:  opts.Metrics,
	}, nil
}

// Sessions exposes the session policy service.
func (s *AuthService) Sessions() *SessionService { return s.sessions }

// BeginLoginResult contains the result of beginning a login flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginLogin generates fresh state and nonce values and returns the provider
// authorization URL carrying them. The caller must persist State and Nonce
// for the callback.
func (s *AuthService) BeginLogin(ctx context.Context) (*BeginLoginResult, error) {
	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken(24)
	if err != nil {
		return nil, err
	}

	authURL, err := s.provider.Begin(ctx, ports.BeginInput{State: state, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}
	return &BeginLoginResult{AuthURL: authURL, State: state, Nonce: nonce}, nil
}

// CompleteLoginInput carries the callback parameters and the values issued
// by BeginLogin.
type CompleteLoginInput struct {
	Code          string
	State         string
	ExpectedState string
	Nonce         string
	IPAddress     string
	UserAgent     string
}

// LoginResult is a successful login: the raw token for the client and the
// stored session.
type LoginResult struct {
	Token        string
	Session      domainauth.Session
	MatchedRules []string
}

// CompleteLogin verifies state, redeems the code, resolves permissions and
// creates a session.
func (s *AuthService) CompleteLogin(ctx context.Context, in CompleteLoginInput) (*LoginResult, error) {
	start := time.Now()
	res, reason, err := s.completeLogin(ctx, in)

	m := metrics.AuthMetric{Operation: "login", Result: metrics.ResultSuccess, Duration: time.Since(start), Err: err}
	switch {
	case err == nil:
	case reason != "":
		m.Result, m.Reason = metrics.ResultRejected, reason
	default:
		m.Result = metrics.ResultError
	}
	metrics.EmitAuth(s.metrics, m)
	return res, err
}

func (s *AuthService) completeLogin(ctx context.Context, in CompleteLoginInput) (*LoginResult, string, error) {
	actor := Actor{IPAddress: in.IPAddress, UserAgent: in.UserAgent}

	if in.ExpectedState == "" || subtle.ConstantTimeCompare([]byte(in.State), []byte(in.ExpectedState)) != 1 {
		s.logger.WarnContext(ctx, "oauth state mismatch on callback; possible forgery",
			"ip", in.IPAddress,
			"user_agent", in.UserAgent,
		)
		s.audit.Record(ctx, actor.entry(model.AuditActionLoginFailed, map[string]string{"reason": "state_mismatch"}))
		return nil, "state_mismatch", ErrStateMismatch
	}
	if strings.TrimSpace(in.Code) == "" {
		s.audit.Record(ctx, actor.entry(model.AuditActionLoginFailed, map[string]string{"reason": "missing_code"}))
		return nil, "missing_code", fmt.Errorf("%w: missing authorization code", ErrExchange)
	}

	ident, err := s.provider.Exchange(ctx, ports.ExchangeInput{Code: in.Code, Nonce: in.Nonce})
	if err != nil {
		s.logger.WarnContext(ctx, "identity exchange failed", "ip", in.IPAddress, "error", err)
		s.audit.Record(ctx, actor.entry(model.AuditActionLoginFailed, map[string]string{"reason": "exchange"}))
		return nil, "exchange", fmt.Errorf("%w: %w", ErrExchange, err)
	}
	actor.UserID, actor.Email = ident.UserID, ident.Email

	rules, err := s.rules.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load permission rules failed", "user_id", ident.UserID, "error", err)
		return nil, "", fmt.Errorf("%w: load permission rules: %w", ErrStoreUnavailable, err)
	}
	resolution := domainauth.NewMatcher(rules).Explain(ident.Subject(), "")
	if resolution.Bundle.IsZero() {
		s.logger.InfoContext(ctx, "login matched no permission rules", "user_id", ident.UserID)
	}

	token, sess, err := s.sessions.Create(ctx, NewSession{
		UserID:      ident.UserID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Permissions: resolution.Bundle,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		"user_id", ident.UserID,
		"role", resolution.Bundle.Role,
		"matched_rules", resolution.MatchedRules,
	)
	s.audit.Record(ctx, actor.entry(model.AuditActionLogin, map[string]string{
		"matched_rules": strings.Join(resolution.MatchedRules, ","),
		"role":          resolution.Bundle.Role.String(),
	}))
	return &LoginResult{Token: token, Session: sess, MatchedRules: resolution.MatchedRules}, "", nil
}

// ValidateToken resolves a presented session token and records activity.
// Every miss is ErrInvalidToken; store failures wrap ErrStoreUnavailable.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (domainauth.Session, error) {
	sess, err := s.sessions.Lookup(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidToken):
		metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "validate", Result: metrics.ResultRejected})
		return domainauth.Session{}, err
	default:
		s.logger.ErrorContext(ctx, "session lookup failed", "error", err)
		metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "validate", Result: metrics.ResultError, Err: err})
		return domainauth.Session{}, err
	}

	if err := s.sessions.Touch(ctx, token); err != nil {
		s.logger.DebugContext(ctx, "session touch failed", "error", err)
	}
	metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "validate", Result: metrics.ResultSuccess})
	return sess, nil
}

// Logout revokes the session for token. It always succeeds from the
// caller's perspective; store failures are logged.
func (s *AuthService) Logout(ctx context.Context, token string, actor Actor) {
	sess, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "logout revoke failed", "error", err)
	}
	if sess != nil {
		actor.UserID, actor.Email = sess.UserID, sess.Email
		s.audit.Record(ctx, actor.entry(model.AuditActionLogout, nil))
	}
	metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "logout", Result: metrics.ResultSuccess})
}

// RevokeSession removes a session by ID on behalf of an administrator.
func (s *AuthService) RevokeSession(ctx context.Context, id string, actor Actor) error {
	sess, err := s.sessions.RevokeByID(ctx, id)
	if err != nil {
		return err
	}
	details := map[string]string{"session_id": id}
	if sess != nil {
		details["target_user_id"] = sess.UserID
	}
	s.audit.Record(ctx, actor.entry(model.AuditActionSessionRevoked, details))
	return nil
}

// TrustEnabled reports whether trust tokens can be issued.
func (s *AuthService) TrustEnabled() bool { return s.trust != nil }

// IssueTrustToken signs a trust token carrying the session's identity and
// permission snapshot.
func (s *AuthService) IssueTrustToken(ctx context.Context, sess domainauth.Session) (string, time.Time, error) {
	if s.trust == nil {
		return "", time.Time{}, trusttoken.ErrDisabled
	}
	token, exp, err := s.trust.Issue(sess.UserID, sess.Email, sess.Permissions, 0)
	if err != nil {
		metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "trust_issue", Result: metrics.ResultError, Err: err})
		return "", time.Time{}, err
	}
	s.logger.DebugContext(ctx, "issued trust token", "user_id", sess.UserID, "expires_at", exp)
	metrics.EmitAuth(s.metrics, metrics.AuthMetric{Operation: "trust_issue", Result: metrics.ResultSuccess})
	return token, exp, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
