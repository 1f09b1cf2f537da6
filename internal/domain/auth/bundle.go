package auth

import (
	"encoding/json"
	"slices"
	"strings"
)

// AllDepartments is the department sentinel meaning "unrestricted".
const AllDepartments = "All"

// PermissionBundle is the resolved permission set for one identity.
// An empty Departments list means no department restriction.
type PermissionBundle struct {
	Role        Role        `json:"access_level"`
	Tickets     AccessLevel `json:"tickets_access"`
	Inventory   AccessLevel `json:"inventory_access"`
	Purchasing  AccessLevel `json:"purchasing_access"`
	Forms       AccessLevel `json:"forms_access"`
	Departments []string    `json:"allowed_departments"`
}

// MarshalJSON encodes an unrestricted (nil) department list as [] so
// consumers never see null.
func (b PermissionBundle) MarshalJSON() ([]byte, error) {
	type plain PermissionBundle
	if b.Departments == nil {
		b.Departments = []string{}
	}
	return json.Marshal(plain(b))
}

// Level returns the bundle's level for c. Unknown categories resolve to none.
func (b PermissionBundle) Level(c Category) AccessLevel {
	switch c {
	case CategoryTickets:
		return b.Tickets
	case CategoryInventory:
		return b.Inventory
	case CategoryPurchasing:
		return b.Purchasing
	case CategoryForms:
		return b.Forms
	default:
		return AccessNone
	}
}

func (b *PermissionBundle) setLevel(c Category, l AccessLevel) {
	switch c {
	case CategoryTickets:
		b.Tickets = l
	case CategoryInventory:
		b.Inventory = l
	case CategoryPurchasing:
		b.Purchasing = l
	case CategoryForms:
		b.Forms = l
	}
}

// Unrestricted reports whether the department list carries the All sentinel.
func (b PermissionBundle) Unrestricted() bool {
	return slices.ContainsFunc(b.Departments, isAllSentinel)
}

// AllowsDepartment reports whether the bundle grants access within dept.
// An empty list or the All sentinel allows every department.
func (b PermissionBundle) AllowsDepartment(dept string) bool {
	if len(b.Departments) == 0 || b.Unrestricted() {
		return true
	}
	dept = strings.TrimSpace(dept)
	return slices.ContainsFunc(b.Departments, func(d string) bool {
		return strings.EqualFold(strings.TrimSpace(d), dept)
	})
}

// IsZero reports whether the bundle grants nothing at all.
func (b PermissionBundle) IsZero() bool {
	return b.Role == RoleNone && b.Tickets == AccessNone && b.Inventory == AccessNone &&
		b.Purchasing == AccessNone && b.Forms == AccessNone && len(b.Departments) == 0
}

// Clone returns a copy that shares no slice storage with b.
func (b PermissionBundle) Clone() PermissionBundle {
	out := b
	out.Departments = slices.Clone(b.Departments)
	return out
}

// Equal compares two bundles field by field, treating nil and empty
// department lists as equal.
func (b PermissionBundle) Equal(o PermissionBundle) bool {
	if b.Role != o.Role || b.Tickets != o.Tickets || b.Inventory != o.Inventory ||
		b.Purchasing != o.Purchasing || b.Forms != o.Forms {
		return false
	}
	if len(b.Departments) != len(o.Departments) {
		return false
	}
	return slices.Equal(b.Departments, o.Departments)
}

// HasPermission is the strict per-category check: the bundle's level for
// category must be at least required.
func HasPermission(b PermissionBundle, category Category, required AccessLevel) bool {
	return b.Level(category) >= required
}

// Grants is HasPermission plus the portal-wide override where an admin or
// super_admin role satisfies every category check.
func Grants(b PermissionBundle, category Category, required AccessLevel) bool {
	if b.Role >= RoleAdmin {
		return true
	}
	return HasPermission(b, category, required)
}

func isAllSentinel(d string) bool {
	return strings.EqualFold(strings.TrimSpace(d), AllDepartments)
}
