package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for ledger misuse.
var (
	ErrUnknownToken  = errors.New("unknown or settled reservation token")
	ErrInvalidAmount = errors.New("amount must be finite and non-negative")
	ErrPilotBusy     = errors.New("pilot has in-flight reservations")
	ErrUnknownPilot  = errors.New("pilot has no allocation")
)

// BudgetScope identifies which ceiling a request would breach.
type BudgetScope string

const (
	// ScopeTotal is the run-wide ceiling: spent + reserved <= total.
	ScopeTotal BudgetScope = "total"
	// ScopePilot is a pilot's allocation: spent_p + reserved_p <= allocated_p.
	ScopePilot BudgetScope = "pilot"
	// ScopeOverrun is a commit whose actual cost exceeds its reservation.
	ScopeOverrun BudgetScope = "overrun"
)

// BudgetExceededError is returned when a reservation, commit, allocation or
// reallocation would breach a budget ceiling. It is never retried.
type BudgetExceededError struct {
	Scope     BudgetScope
	PilotID   string
	Requested float64
	Available float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	if e.PilotID != "" {
		return fmt.Sprintf("budget exceeded (%s, pilot=%s): requested %.4f, available %.4f",
			e.Scope, e.PilotID, e.Requested, e.Available)
	}
	return fmt.Sprintf("budget exceeded (%s): requested %.4f, available %.4f",
		e.Scope, e.Requested, e.Available)
}

// ErrorCode returns the stable taxonomy code.
func (e *BudgetExceededError) ErrorCode() string {
	return "E_BUDGET_EXCEEDED"
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
// Uses errors.As to handle wrapped errors.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
