// Package authroles provides an in-memory permission rule repository for
// development setups that run without PostgreSQL.
package authroles

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocs-portal/portal-auth/internal/core"
	"github.com/ocs-portal/portal-auth/internal/data"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
)

var _ core.RuleRepository = (*StaticRuleRepository)(nil)

// StaticRuleRepository keeps permission rules in process memory. Changes are
// lost on restart.
type StaticRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]domainauth.PermissionRule
	now   func() time.Time
}

// NewStaticRuleRepository returns a repository holding rules.
func NewStaticRuleRepository(rules ...domainauth.PermissionRule) *StaticRuleRepository {
	r := &StaticRuleRepository{rules: make(map[string]domainauth.PermissionRule), now: time.Now}
	for _, rule := range rules {
		_, _ = r.insert(rule)
	}
	return r
}

// NewDefaultRuleRepository returns a repository holding the default rule set.
func NewDefaultRuleRepository() *StaticRuleRepository {
	return NewStaticRuleRepository(domainauth.DefaultRules()...)
}

func (r *StaticRuleRepository) List(_ context.Context) ([]domainauth.PermissionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domainauth.PermissionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, cloneRule(rule))
	}
	slices.SortFunc(out, func(a, b domainauth.PermissionRule) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (r *StaticRuleRepository) GetByID(_ context.Context, id string) (domainauth.PermissionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return domainauth.PermissionRule{}, data.ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

func (r *StaticRuleRepository) Create(_ context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(rule)
}

func (r *StaticRuleRepository) Update(_ context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rules[rule.ID]
	if !ok {
		return domainauth.PermissionRule{}, data.ErrRuleNotFound
	}
	if r.nameTaken(rule.Name, rule.ID) {
		return domainauth.PermissionRule{}, data.ErrRuleNameExists
	}
	rule = cloneRule(rule)
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = r.now().UTC()
	r.rules[rule.ID] = rule
	return cloneRule(rule), nil
}

// SeedIfEmpty inserts rules only when the repository holds none.
func (r *StaticRuleRepository) SeedIfEmpty(_ context.Context, rules []domainauth.PermissionRule) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rules) > 0 {
		return 0, nil
	}
	for _, rule := range rules {
		if _, err := r.insert(rule); err != nil {
			return 0, err
		}
	}
	return len(rules), nil
}

// insert requires r.mu held for writing.
func (r *StaticRuleRepository) insert(rule domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	if r.nameTaken(rule.Name, "") {
		return domainauth.PermissionRule{}, data.ErrRuleNameExists
	}
	rule = cloneRule(rule)
	rule.ID = uuid.NewString()
	now := r.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	r.rules[rule.ID] = rule
	return cloneRule(rule), nil
}

func (r *StaticRuleRepository) nameTaken(name, exceptID string) bool {
	for id, existing := range r.rules {
		if id != exceptID && strings.EqualFold(existing.Name, name) {
			return true
		}
	}
	return false
}

func cloneRule(rule domainauth.PermissionRule) domainauth.PermissionRule {
	rule.Grants = rule.Grants.Clone()
	return rule
}
