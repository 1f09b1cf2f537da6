package auth

// Package auth contains domain-level types for authentication, permission
// rules and sessions. It is pure and free of framework/adapter concerns.

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned by session stores for absent or expired records.
var ErrSessionNotFound = errors.New("session not found")

// Group is one directory group membership reported by the IdP.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity represents the authenticated principal returned by an IdP.
// Adapters map provider-specific claims and profile fields into this shape.
type Identity struct {
	UserID      string // stable provider identifier (oid/sub)
	Email       string
	DisplayName string
	Groups      []Group
	Attributes  map[string]any // raw profile fields used by attribute rules
}

// Subject returns the matcher input for the identity.
func (i Identity) Subject() Subject {
	return Subject{Groups: i.Groups, Attributes: i.Attributes}
}

// Session is the server-side record persisted for an authenticated user.
// ID is the hex SHA-256 of the opaque token; the token itself is never stored.
type Session struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Email        string           `json:"email"`
	DisplayName  string           `json:"display_name"`
	Permissions  PermissionBundle `json:"permissions"`
	IPAddress    string           `json:"ip_address,omitempty"`
	UserAgent    string           `json:"user_agent,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// ExpiredAt reports whether the session's absolute expiry has passed at now.
func (s Session) ExpiredAt(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// IdleAt reports whether the session has been idle longer than idle at now.
// A non-positive idle disables the check.
func (s Session) IdleAt(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.LastActivity) > idle
}

// PrincipalSource records how a request was authenticated.
type PrincipalSource string

const (
	SourceSession PrincipalSource = "session"
	SourceTrust   PrincipalSource = "trust_token"
)

// Principal is the typed identity attached to a request context.
type Principal struct {
	SessionID   string           `json:"session_id,omitempty"`
	UserID      string           `json:"user_id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name,omitempty"`
	Permissions PermissionBundle `json:"permissions"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Source      PrincipalSource  `json:"source"`
}

// PrincipalFromSession builds the request principal for a validated session.
func PrincipalFromSession(s Session) Principal {
	return Principal{
		SessionID:   s.ID,
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Permissions: s.Permissions,
		ExpiresAt:   s.ExpiresAt,
		Source:      SourceSession,
	}
}
