package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/adapters/authroles"
	"github.com/ocs-portal/portal-auth/internal/adapters/devauth"
	"github.com/ocs-portal/portal-auth/internal/adapters/oidc"
	redisadapter "github.com/ocs-portal/portal-auth/internal/adapters/redis"
	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/ports"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

// redisSessionPrefix namespaces session keys in a shared Redis.
const redisSessionPrefix = "portal:session:"

// SessionStoreConfig selects and connects the session backend.
type SessionStoreConfig struct {
	Session     config.SessionConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
}

// BuildSessionStore returns the configured session backend.
//
//nolint:ireturn // the backend is chosen at runtime.
func BuildSessionStore(cfg SessionStoreConfig) (ports.SessionStore, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendPostgres:
		if cfg.DB == nil {
			return nil, errors.New("postgres session backend requires a database")
		}
		return data.NewPostgresSessionStore(cfg.DB), nil
	case config.SessionBackendRedis, "":
		if cfg.RedisClient == nil {
			return nil, errors.New("redis session backend requires a redis client")
		}
		return redisadapter.NewSessionStore(cfg.RedisClient, redisadapter.WithPrefix(redisSessionPrefix)), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// BuildRuleRepository returns the permission rule table for the configured source.
//
//nolint:ireturn // the source is chosen at runtime.
func BuildRuleRepository(source config.RulesSource, db *sql.DB) (core.RuleRepository, error) {
	switch source {
	case config.RulesSourceStatic:
		return authroles.NewDefaultRuleRepository(), nil
	case config.RulesSourcePostgres, "":
		if db == nil {
			return nil, errors.New("postgres rule source requires a database")
		}
		return data.NewRuleRepo(db), nil
	default:
		return nil, fmt.Errorf("unknown rules source %q", source)
	}
}

// AuthProviderConfig contains configuration for the identity provider.
type AuthProviderConfig struct {
	Auth   config.AuthConfig
	Logger *slog.Logger
}

// BuildAuthProvider creates the identity provider for the configured auth
// mode. OAuth mode runs OIDC discovery and fails when it cannot complete.
//
//nolint:ireturn // the provider is chosen at runtime.
func BuildAuthProvider(ctx context.Context, cfg AuthProviderConfig) (ports.AuthProvider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		dev := cfg.Auth.DevAuth
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:      dev.UserID,
			Email:       dev.Email,
			DisplayName: dev.DisplayName,
			Groups:      dev.Groups,
			Attributes:  dev.Attributes,
		})
		if err != nil {
			return nil, fmt.Errorf("dev auth provider: %w", err)
		}
		logger.WarnContext(ctx, "mock authentication enabled; every login signs in as the dev user",
			"user_id", dev.UserID,
			"groups", dev.Groups,
		)
		return prov, nil

	case config.AuthModeOAuth:
		azure := cfg.Auth.Azure
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     azure.ClientID,
			ClientSecret: azure.ClientSecret,
			RedirectURL:  azure.RedirectURI,
			Scopes:       azure.Scopes(),
			Issuer:       azure.Issuer(),
			GraphBaseURL: azure.GraphBaseURL,
			HTTPClient:   &http.Client{Timeout: azure.HTTPTimeout},
		})
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// BuildTrustSigner returns the trust token signer, or nil when trust tokens
// are not configured.
func BuildTrustSigner(cfg config.TrustTokenConfig, logger *slog.Logger) (*trusttoken.Signer, error) {
	signer, err := trusttoken.NewSigner(cfg)
	if errors.Is(err, trusttoken.ErrDisabled) {
		if logger != nil {
			logger.Info("trust tokens disabled: TRUST_TOKEN_SECRET not set")
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust token signer: %w", err)
	}
	return signer, nil
}
