package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/observability/statsd"
	"github.com/ocs-portal/portal-auth/internal/ports"
	"github.com/ocs-portal/portal-auth/internal/service"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Auth     *service.AuthService
	Sessions *service.SessionService
	Rules    *service.RuleService
	Audit    *service.AuditService // nil when auditing is disabled
	Trust    *trusttoken.Signer    // nil when trust tokens are disabled

	SessionStore ports.SessionStore
	AuditRepo    core.AuditRepository
	Metrics      statsd.Sink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildMetricsSink returns a StatsD client, or a no-op sink when metrics are
// disabled or the client cannot be created.
//
//nolint:ireturn // callers only need the Sink behavior.
func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) statsd.Sink {
	if !cfg.IsEnabled() {
		return statsd.NopSink{}
	}
	tags := map[string]string{"service": "portal-auth"}
	if cfg.Env != "" {
		tags["env"] = cfg.Env
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled:    true,
		Address:    cfg.StatsdAddress,
		Prefix:     cfg.Prefix,
		Logger:     logger,
		GlobalTags: tags,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return statsd.NopSink{}
	}
	return client
}

// NewServices wires the stores, repositories and services the portal runs on.
func NewServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := buildMetricsSink(cfg.Observability.Metrics, logger)

	store, err := BuildSessionStore(SessionStoreConfig{
		Session:     cfg.Session,
		DB:          deps.DB,
		RedisClient: deps.RedisClient,
	})
	if err != nil {
		return nil, err
	}
	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Store:  store,
		Config: cfg.Session,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session service: %w", err)
	}

	var (
		audit     *service.AuditService
		auditRepo core.AuditRepository
	)
	if cfg.Audit.Enabled && deps.DB != nil {
		auditRepo = data.NewAuditRepo(deps.DB)
		audit, err = service.NewAuditService(service.AuditServiceOptions{
			Repo:   auditRepo,
			Config: cfg.Audit,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("audit service: %w", err)
		}
	} else if cfg.Audit.Enabled {
		logger.WarnContext(ctx, "audit log disabled: no database configured")
	}

	ruleRepo, err := BuildRuleRepository(cfg.Auth.RulesSource, deps.DB)
	if err != nil {
		return nil, err
	}
	rules, err := service.NewRuleService(service.RuleServiceOptions{Repo: ruleRepo, Audit: audit, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("rule service: %w", err)
	}
	if cfg.Auth.SeedDefaultRules {
		if _, err := rules.SeedDefaults(ctx); err != nil {
			return nil, err
		}
	}

	signer, err := BuildTrustSigner(cfg.TrustToken, logger)
	if err != nil {
		return nil, err
	}

	provider, err := BuildAuthProvider(ctx, AuthProviderConfig{Auth: cfg.Auth, Logger: logger})
	if err != nil {
		return nil, err
	}
	auth, err := service.NewAuthService(service.AuthServiceOptions{
		Provider: provider,
		Sessions: sessions,
		Rules:    ruleRepo,
		Audit:    audit,
		Trust:    signer,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &ServiceContainer{
		Auth:         auth,
		Sessions:     sessions,
		Rules:        rules,
		Audit:        audit,
		Trust:        signer,
		SessionStore: store,
		AuditRepo:    auditRepo,
		Metrics:      metrics,
	}, nil
}

// ServiceOrchestrationConfig contains the dependencies for running services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) []backgroundService {
	return []backgroundService{
		{
			mode: config.ServiceModeSessionSweeper,
			name: "session sweeper",
			start: func(ctx context.Context) error {
				return RunSessionSweeper(ctx, SweeperConfig{
					Store:     cfg.Services.SessionStore,
					DB:        cfg.DB,
					AuditRepo: cfg.Services.AuditRepo,
					Config:    cfg.Config,
					Logger:    logger,
					Metrics:   cfg.Services.Metrics,
				})
			},
		},
	}
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal arrives or one of them fails.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config is incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = StartHTTPServer(&HTTPServerConfig{Config: cfg.Config, Services: cfg.Services, Logger: logger})
		g.Go(func() error {
			if err := serveHTTP(server, logger); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	for _, svc := range buildBackgroundServices(cfg, logger) {
		if !enabled[svc.mode] {
			continue
		}
		logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
		g.Go(func() error {
			if err := svc.start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			logger.Info(svc.name + " stopped")
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWaitTimeout)
		defer cancel()
		return ShutdownHTTPServer(ShutdownConfig{Context: shutdownCtx, Server: server, Logger: logger})
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		return err
	}
	return nil
}
