package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/adapters/sweeper"
	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/observability/statsd"
	"github.com/ocs-portal/portal-auth/internal/ports"
)

// SweeperConfig contains the dependencies for the session sweeper.
type SweeperConfig struct {
	Store     ports.SessionStore
	DB        *sql.DB
	AuditRepo core.AuditRepository
	Config    *config.AppConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// RunSessionSweeper runs the expired session and audit retention sweeper
// until ctx is cancelled.
func RunSessionSweeper(ctx context.Context, cfg SweeperConfig) error {
	runner, err := NewSweeperRunner(cfg)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// NewSweeperRunner builds a sweeper runner from SweeperConfig.
func NewSweeperRunner(cfg SweeperConfig) (*sweeper.Runner, error) {
	if cfg.Config == nil {
		return nil, errors.New("sweeper requires app config")
	}
	return sweeper.NewRunner(sweeper.RunnerOptions{
		Store:     cfg.Store,
		DB:        cfg.DB,
		Session:   cfg.Config.Session,
		Audit:     cfg.Config.Audit,
		Sweeper:   cfg.Config.Sweeper,
		Logger:    cfg.Logger,
		AuditRepo: cfg.AuditRepo,
		Metrics:   cfg.Metrics,
	})
}
