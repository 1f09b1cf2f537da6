//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
)

// CreatePermissionRuleRequest represents parameters to create a permission rule.
type CreatePermissionRuleRequest struct {
	Name     string                      `json:"name"`
	Match    domainauth.RuleMatch        `json:"match"`
	Priority int                         `json:"priority"`
	Grants   domainauth.PermissionBundle `json:"grants"`
}

// Rule returns the validated rule described by the request.
func (r *CreatePermissionRuleRequest) Rule() (domainauth.PermissionRule, error) {
	rule := domainauth.PermissionRule{
		Name:     r.Name,
		Match:    r.Match,
		Priority: r.Priority,
		Grants:   r.Grants.Clone(),
	}
	if err := rule.Validate(); err != nil {
		return domainauth.PermissionRule{}, err
	}
	return rule, nil
}

// UpdatePermissionRuleRequest represents parameters to update a permission rule.
type UpdatePermissionRuleRequest struct {
	Name     *string                      `json:"name,omitempty"`
	Match    *domainauth.RuleMatch        `json:"match,omitempty"`
	Priority *int                         `json:"priority,omitempty"`
	Grants   *domainauth.PermissionBundle `json:"grants,omitempty"`
}

// HasUpdates reports whether any field is set.
func (r *UpdatePermissionRuleRequest) HasUpdates() bool {
	return r.Name != nil || r.Match != nil || r.Priority != nil || r.Grants != nil
}

// Apply merges the update onto current and validates the result.
func (r *UpdatePermissionRuleRequest) Apply(current domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	if !r.HasUpdates() {
		return domainauth.PermissionRule{}, errors.New("at least one field must be updated")
	}
	next := current
	next.Grants = current.Grants.Clone()
	if r.Name != nil {
		next.Name = *r.Name
	}
	if r.Match != nil {
		next.Match = *r.Match
	}
	if r.Priority != nil {
		next.Priority = *r.Priority
	}
	if r.Grants != nil {
		next.Grants = r.Grants.Clone()
	}
	if err := next.Validate(); err != nil {
		return domainauth.PermissionRule{}, err
	}
	return next, nil
}
