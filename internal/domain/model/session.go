//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "strings"

const (
	defaultSessionListLimit = 50
	maxSessionListLimit     = 500
)

// SessionListOptions controls paging and filtering for admin session listings.
type SessionListOptions struct {
	Limit  int
	Offset int
	UserID *string // exact match
}

// Normalize clamps paging values and trims the filter.
func (o *SessionListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultSessionListLimit
	}
	if o.Limit > maxSessionListLimit {
		o.Limit = maxSessionListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.UserID != nil {
		v := strings.TrimSpace(*o.UserID)
		if v == "" {
			o.UserID = nil
		} else {
			o.UserID = &v
		}
	}
}
