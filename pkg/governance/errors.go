package governance

import "errors"

// All kernel operations fail atomically: a returned error means no
// state changed and nothing was written to the audit trail. Callers
// match with errors.Is.
var (
	ErrDuplicateID        = errors.New("identifier already registered")
	ErrNotFound           = errors.New("record not found")
	ErrInvalidConfidence  = errors.New("confidence outside [0,1]")
	ErrInvalidCategory    = errors.New("unknown assumption category")
	ErrInvalidCriticality = errors.New("criticality outside [1,5]")
	ErrUnknownAssumption  = errors.New("unknown assumption")
	ErrNoDependencies     = errors.New("action declares no dependencies")
	ErrInvalidOutcome     = errors.New("outcome must be SUCCESS or FAILURE")
	ErrApprovalRequired   = errors.New("approver identity required")
	ErrNotEvaluated       = errors.New("action has no evaluation on file")
	ErrExecutionDenied    = errors.New("last evaluation denied execution")
	ErrCycle              = errors.New("assumption link would create a cycle")
	ErrInvalidGuard       = errors.New("invalid guard expression")
	ErrInvalidSchema      = errors.New("invalid context schema")
	ErrContextViolation   = errors.New("execution context rejected by schema")
	ErrInvalidConfig      = errors.New("invalid governance config")
)
