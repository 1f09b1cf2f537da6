package auth

import (
	"fmt"
	"strings"
)

// AccessLevel is the per-category permission level. Values are ordered so
// that a higher level always implies every lower one.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

var accessLevelNames = [...]string{"none", "read", "write", "admin"}

// String returns the lowercase wire name of the level.
func (l AccessLevel) String() string {
	if l < AccessNone || l > AccessAdmin {
		return fmt.Sprintf("AccessLevel(%d)", int(l))
	}
	return accessLevelNames[l]
}

// Valid reports whether l is a known level.
func (l AccessLevel) Valid() bool { return l >= AccessNone && l <= AccessAdmin }

// ParseAccessLevel accepts the wire name case-insensitively.
func ParseAccessLevel(s string) (AccessLevel, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, name := range accessLevelNames {
		if name == v {
			return AccessLevel(i), nil
		}
	}
	return AccessNone, fmt.Errorf("invalid access level: %q (valid options: none, read, write, admin)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level: %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *AccessLevel) UnmarshalText(text []byte) error {
	v, err := ParseAccessLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Role is the portal-wide access level carried alongside the per-category levels.
type Role int

const (
	RoleNone Role = iota
	RoleStudent
	RoleStaff
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = [...]string{"none", "student", "staff", "admin", "super_admin"}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r >= RoleNone && r <= RoleSuperAdmin }

// ParseRole accepts the wire name case-insensitively.
func ParseRole(s string) (Role, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, name := range roleNames {
		if name == v {
			return Role(i), nil
		}
	}
	return RoleNone, fmt.Errorf("invalid role: %q (valid options: none, student, staff, admin, super_admin)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role: %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	v, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Category names a resource area guarded by its own access level.
type Category string

const (
	CategoryTickets    Category = "tickets"
	CategoryInventory  Category = "inventory"
	CategoryPurchasing Category = "purchasing"
	CategoryForms      Category = "forms"
)

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{CategoryTickets, CategoryInventory, CategoryPurchasing, CategoryForms}
}

// ParseCategory normalizes and validates a category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryTickets, CategoryInventory, CategoryPurchasing, CategoryForms:
		return c, true
	default:
		return "", false
	}
}
