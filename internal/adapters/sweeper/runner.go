// Package sweeper provides adapters for running the session sweeper.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/observability/statsd"
	"github.com/ocs-portal/portal-auth/internal/ports"
	"github.com/ocs-portal/portal-auth/internal/service"
)

// Runner runs the session sweeper loop as a standalone service.
type Runner struct {
	sweeper *service.SessionSweeperService
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Store   ports.SessionStore
	DB      *sql.DB
	Session config.SessionConfig
	Audit   config.AuditConfig
	Sweeper config.SweeperConfig
	Logger  *slog.Logger

	// Optional dependency injection for testing/decoupling
	AuditRepo core.AuditRepository
	Metrics   statsd.Sink
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	sweeper, err := wireSweeperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire sweeper service: %w", err)
	}

	return &Runner{sweeper: sweeper, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Store == nil {
		return errors.New("session store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireSweeperService wires up all dependencies for the sweeper service.
// Audit pruning is skipped when auditing is disabled or no database is available.
func wireSweeperService(opts RunnerOptions) (*service.SessionSweeperService, error) {
	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Store:  opts.Store,
		Config: opts.Session,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	var audit *service.AuditService
	if opts.Audit.Enabled {
		repo := opts.AuditRepo
		if repo == nil && opts.DB != nil {
			repo = data.NewAuditRepo(opts.DB)
		}
		if repo != nil {
			audit, err = service.NewAuditService(service.AuditServiceOptions{
				Repo:   repo,
				Config: opts.Audit,
				Logger: opts.Logger,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return service.NewSessionSweeperService(service.SessionSweeperServiceOptions{
		Sessions: sessions,
		Audit:    audit,
		Config:   opts.Sweeper,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
}

// Run starts the sweeper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting session sweeper runner")
	return r.sweeper.Run(ctx)
}

// RunOnce performs a single sweep.
func (r *Runner) RunOnce(ctx context.Context) (service.SweepResult, error) {
	return r.sweeper.RunOnce(ctx)
}
