package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrRuleNotFound is returned when a permission rule does not exist.
	ErrRuleNotFound = errors.New("permission rule not found")
	// ErrRuleNameExists is returned when a rule name is already taken.
	ErrRuleNameExists = errors.New("permission rule name already exists")
)

// Advisory lock keys for maintenance sweeps, namespaced by major key.
const (
	advisoryLockSweepMajor    = 2100
	advisoryLockSweepSessions = 1
	advisoryLockSweepAudit    = 2
)
