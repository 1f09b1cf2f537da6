//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
)

// AuditAction names an auditable authentication event.
type AuditAction string

const (
	AuditActionLogin          AuditAction = "login"
	AuditActionLoginFailed    AuditAction = "login_failed"
	AuditActionLogout         AuditAction = "logout"
	AuditActionSessionRevoked AuditAction = "session_revoked"
	AuditActionRuleCreated    AuditAction = "rule_created"
	AuditActionRuleUpdated    AuditAction = "rule_updated"
)

// Valid reports whether the action is known.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionLogin, AuditActionLoginFailed, AuditActionLogout,
		AuditActionSessionRevoked, AuditActionRuleCreated, AuditActionRuleUpdated:
		return true
	default:
		return false
	}
}

// AuditEntry is one persisted audit log row.
type AuditEntry struct {
	ID        string            `json:"id"                   db:"id"`
	UserID    string            `json:"user_id"              db:"user_id"`
	Email     string            `json:"email,omitempty"      db:"email"`
	Action    AuditAction       `json:"action"               db:"action"`
	Details   map[string]string `json:"details,omitempty"    db:"-"`
	IPAddress string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string            `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time         `json:"created_at"           db:"created_at"`
}

// CreateAuditEntryRequest represents parameters to record an audit entry.
type CreateAuditEntryRequest struct {
	UserID    string
	Email     string
	Action    AuditAction
	Details   map[string]string
	IPAddress string
	UserAgent string
}

// Validate validates CreateAuditEntryRequest.
func (r *CreateAuditEntryRequest) Validate() error {
	if !r.Action.Valid() {
		return errors.New("invalid audit action")
	}
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
	return nil
}

// AuditListOptions controls paging and filtering for audit listings.
type AuditListOptions struct {
	Limit  int
	Offset int
	UserID *string      // exact match
	Action *AuditAction // exact match
	Since  *time.Time   // created_at >= Since
}

// Normalize clamps paging values.
func (o *AuditListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
