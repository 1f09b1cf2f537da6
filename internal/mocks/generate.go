// Package mocks provides gomock implementations of the repository and store ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	rules := mocks.NewMockRuleRepository(ctrl)
//	rules.EXPECT().List(gomock.Any()).Return(domainauth.DefaultRules(), nil)
package mocks

// RuleRepository: List, GetByID, Create, Update, SeedIfEmpty
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rule_repository_mock.go github.com/ocs-portal/portal-auth/internal/core RuleRepository

// AuditRepository: Create, List, DeleteOlderThan
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=audit_repository_mock.go github.com/ocs-portal/portal-auth/internal/core AuditRepository

// SessionStore: Save, Get, Touch, Delete, ListByUser, List, DeleteExpired
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=session_store_mock.go github.com/ocs-portal/portal-auth/internal/ports SessionStore
