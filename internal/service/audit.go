package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

// AuditServiceOptions groups dependencies for AuditService.
type AuditServiceOptions struct {
	Repo   core.AuditRepository // Required
	Config config.AuditConfig
	Logger *slog.Logger // Optional
}

// AuditService records authentication events. A nil *AuditService is valid
// and records nothing.
type AuditService struct {
	repo   core.AuditRepository
	config config.AuditConfig
	logger *slog.Logger
}

// NewAuditService constructs a new AuditService.
func NewAuditService(opts AuditServiceOptions) (*AuditService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AuditRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{
		repo:   opts.Repo,
		config: opts.Config,
		logger: logger.With("component", "audit_service"),
	}, nil
}

// Enabled reports whether events are persisted.
func (s *AuditService) Enabled() bool {
	return s != nil && s.config.Enabled
}

// Record persists an audit entry. Failures are logged and never returned,
// so auditing cannot block a login or logout.
func (s *AuditService) Record(ctx context.Context, req model.CreateAuditEntryRequest) {
	if !s.Enabled() {
		return
	}
	if _, err := s.repo.Create(ctx, &req); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit entry",
			"action", req.Action,
			"user_id", req.UserID,
			"error", err,
		)
	}
}

// List returns audit entries newest first.
func (s *AuditService) List(ctx context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error) {
	if s == nil {
		return []*model.AuditEntry{}, nil
	}
	opts.Normalize()
	entries, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention window in batches until
// none remain or ctx is done.
func (s *AuditService) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.config.Retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.config.Retention)

	var total int64
	for {
		n, err := s.repo.DeleteOlderThan(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.config.BatchSize) || n == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "pruned audit entries", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

// Actor identifies who performed an audited action and from where.
type Actor struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
}

func (a Actor) entry(action model.AuditAction, details map[string]string) model.CreateAuditEntryRequest {
	return model.CreateAuditEntryRequest{
		UserID:    a.UserID,
		Email:     a.Email,
		Action:    action,
		Details:   details,
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
	}
}
