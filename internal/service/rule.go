package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/data"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	apperrors "github.com/ocs-portal/portal-auth/internal/errors"
)

// RuleServiceOptions groups dependencies for RuleService.
type RuleServiceOptions struct {
	Repo   core.RuleRepository // Required: rule repository
	Audit  *AuditService       // Optional: records rule changes
	Logger *slog.Logger        // Optional: structured logger
}

// RuleService manages the permission rule table.
type RuleService struct {
	repo   core.RuleRepository
	audit  *AuditService
	logger *slog.Logger
}

// NewRuleService constructs a new RuleService.
func NewRuleService(opts RuleServiceOptions) (*RuleService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("validate options: %w", errors.New("RuleRepository is required"))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleService{
		repo:   opts.Repo,
		audit:  opts.Audit,
		logger: logger.With("component", "rule_service"),
	}, nil
}

// List returns every rule in evaluation order.
func (s *RuleService) List(ctx context.Context) ([]domainauth.PermissionRule, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", apperrors.MapDBError(err))
	}
	return rules, nil
}

// Get returns one rule by ID.
func (s *RuleService) Get(ctx context.Context, id string) (domainauth.PermissionRule, error) {
	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainauth.PermissionRule{}, mapRuleErr(err)
	}
	return rule, nil
}

// Create validates and stores a new rule.
func (s *RuleService) Create(
	ctx context.Context,
	req model.CreatePermissionRuleRequest,
	actor Actor,
) (domainauth.PermissionRule, error) {
	rule, err := req.Rule()
	if err != nil {
		return domainauth.PermissionRule{}, apperrors.Validation(err.Error())
	}

	created, err := s.repo.Create(ctx, rule)
	if err != nil {
		return domainauth.PermissionRule{}, mapRuleErr(err)
	}

	s.logger.InfoContext(ctx, "permission rule created", "id", created.ID, "name", created.Name, "by", actor.UserID)
	s.audit.Record(ctx, actor.entry(model.AuditActionRuleCreated, map[string]string{
		"rule_id": created.ID,
		"name":    created.Name,
		"match":   created.Match.Describe(),
	}))
	return created, nil
}

// Update applies a partial update to an existing rule.
func (s *RuleService) Update(
	ctx context.Context,
	id string,
	req model.UpdatePermissionRuleRequest,
	actor Actor,
) (domainauth.PermissionRule, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainauth.PermissionRule{}, mapRuleErr(err)
	}

	next, err := req.Apply(current)
	if err != nil {
		return domainauth.PermissionRule{}, apperrors.Validation(err.Error())
	}

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return domainauth.PermissionRule{}, mapRuleErr(err)
	}

	s.logger.InfoContext(ctx, "permission rule updated", "id", updated.ID, "name", updated.Name, "by", actor.UserID)
	s.audit.Record(ctx, actor.entry(model.AuditActionRuleUpdated, map[string]string{
		"rule_id": updated.ID,
		"name":    updated.Name,
	}))
	return updated, nil
}

// SeedDefaults inserts the default rule set when the table is empty and
// reports how many rules were inserted.
func (s *RuleService) SeedDefaults(ctx context.Context) (int, error) {
	n, err := s.repo.SeedIfEmpty(ctx, domainauth.DefaultRules())
	if err != nil {
		return 0, fmt.Errorf("seed default rules: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "seeded default permission rules", "count", n)
	}
	return n, nil
}

// Matcher snapshots the current rule table.
func (s *RuleService) Matcher(ctx context.Context) (*domainauth.Matcher, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load permission rules: %w", err)
	}
	return domainauth.NewMatcher(rules), nil
}

// Explain resolves the bundle a subject would receive and the rules that
// contributed to it.
func (s *RuleService) Explain(
	ctx context.Context,
	subject domainauth.Subject,
	department string,
) (domainauth.Resolution, error) {
	m, err := s.Matcher(ctx)
	if err != nil {
		return domainauth.Resolution{}, err
	}
	return m.Explain(subject, department), nil
}

func mapRuleErr(err error) error {
	switch {
	case errors.Is(err, data.ErrRuleNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "permission rule not found")
	case errors.Is(err, data.ErrRuleNameExists):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "a rule with this name already exists")
	default:
		return apperrors.MapDBError(err)
	}
}
