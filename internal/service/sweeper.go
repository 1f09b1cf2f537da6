package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/observability/metrics"
	"github.com/ocs-portal/portal-auth/internal/observability/statsd"
)

// SessionSweeperServiceOptions groups dependencies for SessionSweeperService.
type SessionSweeperServiceOptions struct {
	Sessions *SessionService      // Required
	Audit    *AuditService        // Optional: audit retention is skipped when nil
	Config   config.SweeperConfig // Required: sweep interval
	Logger   *slog.Logger         // Optional: structured logger
	Metrics  statsd.Sink          // Optional: metrics sink (StatsD-compatible)
	Now      func() time.Time     // Optional: clock override for tests
}

// SessionSweeperService periodically removes expired sessions from stores
// without native expiry and prunes audit entries past retention.
type SessionSweeperService struct {
	sessions *SessionService
	audit    *AuditService
	config   config.SweeperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewSessionSweeperService constructs a new SessionSweeperService.
func NewSessionSweeperService(opts SessionSweeperServiceOptions) (*SessionSweeperService, error) {
	if opts.Sessions == nil {
		return nil, errors.New("SessionService is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("sweeper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session_sweeper")
	logger.Debug("SessionSweeperService initialized", "interval", opts.Config.Interval)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionSweeperService{
		sessions: opts.Sessions,
		audit:    opts.Audit,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      now,
	}, nil
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	Sessions     int64
	AuditEntries int64
	Elapsed      time.Duration
}

// Run sweeps immediately after a short jitter and then at every interval
// until ctx is cancelled. Returns nil on graceful shutdown.
func (s *SessionSweeperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting session sweeper", "interval", s.config.Interval)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logSweepError(ctx, err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "session sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logSweepError(ctx, err, "sweep")
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval so replicas started
// together do not sweep in lockstep.
func (s *SessionSweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

type sweepStep struct {
	operation string
	fn        func(context.Context) (int64, error)
	count     *int64
}

// RunOnce performs a single sweep. Every step runs even when an earlier
// one fails; the errors are joined.
func (s *SessionSweeperService) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var (
		res  SweepResult
		errs []error
	)

	steps := []sweepStep{
		{operation: "delete_expired_sessions", fn: s.sessions.DeleteExpired, count: &res.Sessions},
		{operation: "prune_audit", fn: s.pruneAudit, count: &res.AuditEntries},
	}
	for _, step := range steps {
		n, err := step.fn(ctx)
		*step.count = n
		s.emitStepMetric(step.operation, n, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
		}
	}
	res.Elapsed = time.Since(start)

	if res.Sessions > 0 {
		s.logger.InfoContext(ctx, "deleted expired sessions", "count", res.Sessions)
	}

	err := errors.Join(errs...)
	s.emitSweepMetric(res, err)
	if err != nil {
		return res, fmt.Errorf("sweep failed: %w", err)
	}
	return res, nil
}

func (s *SessionSweeperService) pruneAudit(ctx context.Context) (int64, error) {
	return s.audit.Prune(ctx, s.now())
}

func (s *SessionSweeperService) emitSweepMetric(res SweepResult, err error) {
	result := metrics.ResultSuccess
	if err != nil && !isContextCancellation(err) {
		result = metrics.ResultError
	}
	metrics.EmitAuth(s.metrics, metrics.AuthMetric{
		Operation: "sweep",
		Result:    result,
		Duration:  res.Elapsed,
		Err:       err,
	})
	if s.metrics != nil && err == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *SessionSweeperService) emitStepMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"operation": operation, "result": metrics.ResultSuccess}
	if err != nil {
		tags["result"] = metrics.ResultError
	}
	s.metrics.Count("sweeper.step", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("sweeper.records_deleted", count, metrics.CloneTags(tags))
	}
}

func (s *SessionSweeperService) logSweepError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
