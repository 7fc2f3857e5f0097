package models

import "time"

// LoopState is the orchestrator state machine position of one closed loop.
type LoopState string

// Loop states. The happy path is IDLE through LEARNING and back to IDLE;
// ERROR, TIMEOUT and ESCALATED are reachable from any state.
const (
	LoopIdle      LoopState = "IDLE"
	LoopResolving LoopState = "RESOLVING"
	LoopPlanning  LoopState = "PLANNING"
	LoopApproving LoopState = "APPROVING"
	LoopExecuting LoopState = "EXECUTING"
	LoopVerifying LoopState = "VERIFYING"
	LoopReporting LoopState = "REPORTING"
	LoopLearning  LoopState = "LEARNING"
	LoopError     LoopState = "ERROR"
	LoopTimeout   LoopState = "TIMEOUT"
	LoopEscalated LoopState = "ESCALATED"
)

// Terminal reports whether the loop can no longer make progress. IDLE is
// terminal only once a final status has been assigned.
func (s LoopState) Terminal() bool {
	switch s {
	case LoopError, LoopTimeout, LoopEscalated:
		return true
	}
	return false
}

// Final loop statuses.
const (
	FinalSuccess   = "success"
	FinalFailed    = "failed"
	FinalCancelled = "cancelled"
	FinalError     = "error"
	FinalTimeout   = "timeout"
	FinalEscalated = "escalated"
)

// OrchestrationMode selects how aggressively the orchestrator acts without
// a human in the loop.
type OrchestrationMode string

// Orchestration modes.
const (
	ModeAutonomous OrchestrationMode = "autonomous"      // Approval only for DANGEROUS plans
	ModeSemiAuto   OrchestrationMode = "semi_autonomous" // Graded approval policy (risk, confidence, destructive, external writes)
	ModeSupervised OrchestrationMode = "supervised"      // Every plan blocks on approval
)

// ParseOrchestrationMode coerces a mode string; unknown values resolve to
// supervised, the conservative default.
func ParseOrchestrationMode(raw string) OrchestrationMode {
	switch raw {
	case string(ModeAutonomous):
		return ModeAutonomous
	case string(ModeSemiAuto), "semi_auto", "semi":
		return ModeSemiAuto
	case string(ModeSupervised):
		return ModeSupervised
	default:
		return ModeSupervised
	}
}

// RiskLevel is the orchestrator-local view of plan safety used by the
// approval policy.
type RiskLevel string

// Risk levels.
const (
	RiskSafe      RiskLevel = "SAFE"
	RiskModerate  RiskLevel = "MODERATE_RISK"
	RiskHigh      RiskLevel = "HIGH_RISK"
	RiskDangerous RiskLevel = "DANGEROUS"
)

// RiskFromSafety maps a plan's overall safety level to a risk level.
func RiskFromSafety(s SafetyLevel) RiskLevel {
	switch s {
	case SafetySafe:
		return RiskSafe
	case SafetyCautious:
		return RiskModerate
	case SafetyRisky:
		return RiskHigh
	case SafetyDangerous:
		return RiskDangerous
	default:
		return RiskModerate
	}
}

// LoopExecution is the end-to-end state of one closed loop. Progress is
// monotonic from 0 to 1 across the phase weights.
type LoopExecution struct {
	LoopID        string
	EventID       string
	Mode          OrchestrationMode
	UserID        string // Who triggered the loop, for audit
	State         LoopState
	Progress      float64
	Plan          *ExecutionPlan
	Results       []ExecutionResult
	Verifications []VerificationResult
	ErrorCount    int
	FinalStatus   string // One of the Final* constants, empty while active
	Error         string // Terminal error message, if any
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Done reports whether the loop has been finalized.
func (l *LoopExecution) Done() bool {
	return l.FinalStatus != ""
}

// Succeeded reports whether every execution result completed successfully.
// A loop with no results did not succeed.
func (l *LoopExecution) Succeeded() bool {
	if len(l.Results) == 0 {
		return false
	}
	for _, r := range l.Results {
		if r.Status != StatusCompleted {
			return false
		}
	}
	return true
}
