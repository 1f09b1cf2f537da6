package core

import (
	"context"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// RuleRepository defines the interface for permission rule data operations.
type RuleRepository interface {
	// List returns every rule. Order is not significant; the matcher orders them.
	List(ctx context.Context) ([]domainauth.PermissionRule, error)
	GetByID(ctx context.Context, id string) (domainauth.PermissionRule, error)
	Create(ctx context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error)
	Update(ctx context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error)
	// SeedIfEmpty inserts rules only when the table holds none and reports
	// how many were inserted. Safe to call concurrently from several processes.
	SeedIfEmpty(ctx context.Context, rules []domainauth.PermissionRule) (int, error)
}

// AuditRepository defines the interface for audit log data operations.
type AuditRepository interface {
	Create(ctx context.Context, req *model.CreateAuditEntryRequest) (*model.AuditEntry, error)
	List(ctx context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
