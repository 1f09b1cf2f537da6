package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ocs-portal/portal-auth/internal/validation"
)

// MatchKind selects how a rule's condition is evaluated.
type MatchKind string

const (
	MatchGroup     MatchKind = "group"
	MatchAttribute MatchKind = "attribute"
)

// RuleMatch is the condition half of a PermissionRule.
//
// Group rules match when any of the identity's groups has GroupID, or has
// GroupName compared case-insensitively. Attribute rules match when the
// value addressed by AttributeKey equals AttributeValue. AttributeKey is a
// plain attribute name or a JMESPath expression over the provider profile.
type RuleMatch struct {
	Kind           MatchKind `json:"kind"                      validate:"oneof=group attribute"`
	GroupName      string    `json:"group_name,omitempty"      validate:"max=255"`
	GroupID        string    `json:"group_id,omitempty"        validate:"max=255"`
	AttributeKey   string    `json:"attribute_key,omitempty"   validate:"omitempty,max=255,jmespath"`
	AttributeValue string    `json:"attribute_value,omitempty" validate:"max=1024"`
}

// PermissionRule maps a group or attribute condition to a permission bundle.
type PermissionRule struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"       validate:"required,notblank,max=255"`
	Match     RuleMatch        `json:"match"`
	Priority  int              `json:"priority"   validate:"gte=0,lte=100000"`
	Grants    PermissionBundle `json:"grants"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid permission rule")

// Validate checks field constraints plus the kind-dependent requirements.
func (r *PermissionRule) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Match.GroupName = strings.TrimSpace(r.Match.GroupName)
	r.Match.GroupID = strings.TrimSpace(r.Match.GroupID)
	r.Match.AttributeKey = strings.TrimSpace(r.Match.AttributeKey)
	r.Match.AttributeValue = strings.TrimSpace(r.Match.AttributeValue)

	if msg, ok := validation.Struct(r); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidRule, msg)
	}

	switch r.Match.Kind {
	case MatchGroup:
		if r.Match.GroupName == "" && r.Match.GroupID == "" {
			return fmt.Errorf("%w: group rule needs group_name or group_id", ErrInvalidRule)
		}
		if r.Match.AttributeKey != "" || r.Match.AttributeValue != "" {
			return fmt.Errorf("%w: group rule cannot carry attribute fields", ErrInvalidRule)
		}
	case MatchAttribute:
		if r.Match.AttributeKey == "" || r.Match.AttributeValue == "" {
			return fmt.Errorf("%w: attribute rule needs attribute_key and attribute_value", ErrInvalidRule)
		}
		if r.Match.GroupName != "" || r.Match.GroupID != "" {
			return fmt.Errorf("%w: attribute rule cannot carry group fields", ErrInvalidRule)
		}
	}

	return validateGrants(r.Grants)
}

func validateGrants(b PermissionBundle) error {
	if !b.Role.Valid() {
		return fmt.Errorf("%w: unknown access_level %d", ErrInvalidRule, int(b.Role))
	}
	for _, c := range Categories() {
		if !b.Level(c).Valid() {
			return fmt.Errorf("%w: unknown %s level", ErrInvalidRule, c)
		}
	}
	for _, d := range b.Departments {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%w: allowed_departments cannot contain blank entries", ErrInvalidRule)
		}
	}
	return nil
}

// Describe renders the rule condition for logs and audit entries.
func (m RuleMatch) Describe() string {
	switch m.Kind {
	case MatchAttribute:
		return fmt.Sprintf("attribute %s=%q", m.AttributeKey, m.AttributeValue)
	case MatchGroup:
		if m.GroupID != "" && m.GroupName != "" {
			return fmt.Sprintf("group %q (%s)", m.GroupName, m.GroupID)
		}
		if m.GroupID != "" {
			return "group " + m.GroupID
		}
		return fmt.Sprintf("group %q", m.GroupName)
	default:
		return string(m.Kind)
	}
}
