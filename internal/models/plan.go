package models

import "time"

// PlanTTL is how long a plan stays valid after creation.
const PlanTTL = 24 * time.Hour

// WindowKind constrains when a plan may start executing.
type WindowKind string

// Window kinds.
const (
	WindowImmediate     WindowKind = "immediate"      // Execute as soon as possible
	WindowBusinessHours WindowKind = "business_hours" // Execute only Mon-Fri 09:00-17:00
)

// ExecutionWindow restricts when a plan may be executed. A nil window means
// execution is unrestricted.
type ExecutionWindow struct {
	Kind      WindowKind
	StartHour int // Inclusive, local time (business_hours only)
	EndHour   int // Exclusive, local time (business_hours only)
}

// Contains reports whether t falls inside the window.
func (w *ExecutionWindow) Contains(t time.Time) bool {
	if w == nil || w.Kind == WindowImmediate {
		return true
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := t.Hour()
	return h >= w.StartHour && h < w.EndHour
}

// BusinessHoursWindow returns the standard Mon-Fri 09:00-17:00 window.
func BusinessHoursWindow() *ExecutionWindow {
	return &ExecutionWindow{Kind: WindowBusinessHours, StartHour: 9, EndHour: 17}
}

// ExecutionPlan is the prioritized, safety-scored bundle of actions the
// planner produced for one event. It is read-only once created.
type ExecutionPlan struct {
	ID                  string           // Unique plan identifier
	EventID             string           // Event this plan responds to
	PrimaryActions      []PlannedAction  // Actions to execute, already filtered/prioritized/capped
	ContingencyActions  []PlannedAction  // Executed only if a primary action fails
	MonitoringActions   []PlannedAction  // Detached background work
	OverallConfidence   float64          // Duration-inverse-weighted average of primary confidences
	OverallSafety       SafetyLevel      // Most restrictive primary action safety
	OverallPriority     Priority         // Highest primary action priority
	ExecutionWindow     *ExecutionWindow // When the plan may run; nil = unrestricted
	PrerequisitesMet    bool             // Result of prerequisite predicate evaluation
	HumanApprovalNeeded bool             // OR over action-level approval flags
	Reason              string           // Planner rationale
	CreatedAt           time.Time
	ExpiresAt           time.Time // CreatedAt + PlanTTL
}

// Expired reports whether the plan has outlived its TTL.
func (p *ExecutionPlan) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ActionCount returns the total number of actions across all three lists.
func (p *ExecutionPlan) ActionCount() int {
	return len(p.PrimaryActions) + len(p.ContingencyActions) + len(p.MonitoringActions)
}

// DeriveOverallConfidence computes the duration-inverse-weighted average of
// the primary action confidences: shorter actions weigh more. Actions with
// no estimate weigh as one minute. Returns 0 for an empty plan.
func DeriveOverallConfidence(actions []PlannedAction) float64 {
	if len(actions) == 0 {
		return 0
	}
	var weighted, total float64
	for _, a := range actions {
		minutes := a.EstimatedDuration.Minutes()
		if minutes < 1 {
			minutes = 1
		}
		w := 1 / minutes
		weighted += a.ConfidenceScore * w
		total += w
	}
	return weighted / total
}

// DeriveOverallSafety returns the most restrictive safety level among the
// actions, or SAFE when the list is empty.
func DeriveOverallSafety(actions []PlannedAction) SafetyLevel {
	overall := SafetySafe
	for _, a := range actions {
		if a.SafetyLevel.Rank() > overall.Rank() {
			overall = a.SafetyLevel
		}
	}
	return overall
}

// DeriveOverallPriority returns the highest priority among the actions, or
// DEFERRED when the list is empty.
func DeriveOverallPriority(actions []PlannedAction) Priority {
	overall := PriorityDeferred
	for _, a := range actions {
		if a.Priority.Rank() > overall.Rank() {
			overall = a.Priority
		}
	}
	return overall
}

// DeriveExecutionWindow picks the plan window: immediate when any action is
// CRITICAL, business hours when any action is RISKY (and none critical),
// otherwise unrestricted (nil).
func DeriveExecutionWindow(actions []PlannedAction) *ExecutionWindow {
	risky := false
	for _, a := range actions {
		if a.Priority == PriorityCritical {
			return &ExecutionWindow{Kind: WindowImmediate}
		}
		if a.SafetyLevel.Rank() >= SafetyRisky.Rank() {
			risky = true
		}
	}
	if risky {
		return BusinessHoursWindow()
	}
	return nil
}
