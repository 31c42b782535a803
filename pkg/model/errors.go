package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core's surfaced error kinds. Callers branch with
// errors.Is; stores and services wrap these with operation context.
var (
	// ErrNotFound is returned for missing rows AND for rows owned by a
	// different tenant. Cross-tenant access must be indistinguishable from
	// absence.
	ErrNotFound = errors.New("not found")

	ErrInputRejected      = errors.New("input rejected")
	ErrTenantUnknown      = errors.New("tenant unknown")
	ErrTransientStorage   = errors.New("transient storage failure")
	ErrProviderTimeout    = errors.New("provider timeout")
	ErrProviderRateLimit  = errors.New("provider rate limited")
	ErrLLMOutputInvalid   = errors.New("llm output invalid")
	ErrLLMSuspicious      = errors.New("llm output suspicious")
	ErrOptimisticConflict = errors.New("optimistic version conflict")
	ErrBudgetExceeded     = errors.New("ai budget exceeded")
	ErrDropzoneWrite      = errors.New("dropzone write failed")
	ErrQueueFull          = errors.New("extraction queue full")
)

// StateMachineError reports a disallowed draft transition. Never retried.
type StateMachineError struct {
	DraftID string
	From    DraftStatus
	To      DraftStatus
}

func (e *StateMachineError) Error() string {
	return fmt.Sprintf("draft %s: transition %s -> %s not allowed", e.DraftID, e.From, e.To)
}

// IsStateMachineViolation reports whether err is a disallowed transition.
func IsStateMachineViolation(err error) bool {
	var sme *StateMachineError
	return errors.As(err, &sme)
}
