package models

import "time"

// ExecutionStatus tracks one action attempt through its lifecycle.
type ExecutionStatus string

// Execution statuses. PENDING, RUNNING and RETRYING are transient; the rest
// are terminal for the action.
const (
	StatusPending         ExecutionStatus = "PENDING"
	StatusRunning         ExecutionStatus = "RUNNING"
	StatusRetrying        ExecutionStatus = "RETRYING"
	StatusCompleted       ExecutionStatus = "COMPLETED"
	StatusFailed          ExecutionStatus = "FAILED"
	StatusTimeout         ExecutionStatus = "TIMEOUT"
	StatusCancelled       ExecutionStatus = "CANCELLED"
	StatusBlocked         ExecutionStatus = "BLOCKED"
	StatusWaitingApproval ExecutionStatus = "WAITING_APPROVAL"
)

// Terminal reports whether the status ends the action's lifecycle.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// ExecutionResult is the outcome of attempting one PlannedAction. Results are
// appended to loop history and never mutated after finalization.
type ExecutionResult struct {
	ID                string                 // Unique result identifier
	Action            PlannedAction          // The action that was attempted
	Status            ExecutionStatus        // Final (or current, while active) status
	Success           bool                   // True iff one attempt completed successfully
	ResultData        map[string]interface{} // Executor return value, opaque
	ErrorMessage      string                 // Last failure message, empty on success
	RetryCount        int                    // Attempts beyond the first
	RollbackPerformed bool                   // True when the rollback procedure ran successfully
	StartedAt         time.Time
	CompletedAt       time.Time
	Duration          time.Duration // Wall time across all attempts
}

// DurationSeconds returns the execution duration in whole seconds, the unit
// persisted to the audit store.
func (r *ExecutionResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}
