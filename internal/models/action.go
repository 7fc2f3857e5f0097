package models

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is the closed set of things the pipeline knows how to do.
type ActionType string

// Action types.
const (
	ActionUpdateStatus         ActionType = "UPDATE_STATUS"
	ActionAssignIssue          ActionType = "ASSIGN_ISSUE"
	ActionCreateIssue          ActionType = "CREATE_ISSUE"
	ActionEscalateIssue        ActionType = "ESCALATE_ISSUE"
	ActionAddComment           ActionType = "ADD_COMMENT"
	ActionRequestClarification ActionType = "REQUEST_CLARIFICATION"
	ActionImplementFeature     ActionType = "IMPLEMENT_FEATURE"
	ActionFixBug               ActionType = "FIX_BUG"
	ActionRunTests             ActionType = "RUN_TESTS"
	ActionCreatePR             ActionType = "CREATE_PR"
	ActionReviewPR             ActionType = "REVIEW_PR"
	ActionMergePR              ActionType = "MERGE_PR"
	ActionUpdateDocumentation  ActionType = "UPDATE_DOCUMENTATION"
	ActionSendMessage          ActionType = "SEND_MESSAGE"
	ActionNotifyTeam           ActionType = "NOTIFY_TEAM"
	ActionGatherMoreContext    ActionType = "GATHER_MORE_CONTEXT"
	ActionMonitorProgress      ActionType = "MONITOR_PROGRESS"
	ActionWaitForHuman         ActionType = "WAIT_FOR_HUMAN"
	ActionRestartService       ActionType = "RESTART_SERVICE"
	ActionScaleService         ActionType = "SCALE_SERVICE"
	ActionRollbackDeployment   ActionType = "ROLLBACK_DEPLOYMENT"
)

// AllActionTypes lists every action type. The builtin executor registry is
// asserted to cover all of them.
var AllActionTypes = []ActionType{
	ActionUpdateStatus,
	ActionAssignIssue,
	ActionCreateIssue,
	ActionEscalateIssue,
	ActionAddComment,
	ActionRequestClarification,
	ActionImplementFeature,
	ActionFixBug,
	ActionRunTests,
	ActionCreatePR,
	ActionReviewPR,
	ActionMergePR,
	ActionUpdateDocumentation,
	ActionSendMessage,
	ActionNotifyTeam,
	ActionGatherMoreContext,
	ActionMonitorProgress,
	ActionWaitForHuman,
	ActionRestartService,
	ActionScaleService,
	ActionRollbackDeployment,
}

var actionAliases = map[string]ActionType{
	"MERGE":    ActionMergePR,
	"COMMENT":  ActionAddComment,
	"RESTART":  ActionRestartService,
	"ESCALATE": ActionEscalateIssue,
	"NOTIFY":   ActionNotifyTeam,
}

var knownActionTypes = func() map[ActionType]bool {
	m := make(map[ActionType]bool, len(AllActionTypes))
	for _, at := range AllActionTypes {
		m[at] = true
	}
	return m
}()

// ParseActionType coerces a free-form action name into the closed set.
// Unknown names fall back to REQUEST_CLARIFICATION: asking is always safe.
func ParseActionType(raw string) ActionType {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if at, ok := actionAliases[norm]; ok {
		return at
	}
	if knownActionTypes[ActionType(norm)] {
		return ActionType(norm)
	}
	return ActionRequestClarification
}

// destructiveActions change production state or published artifacts in ways
// that are hard to undo.
var destructiveActions = map[ActionType]bool{
	ActionMergePR:            true,
	ActionRestartService:     true,
	ActionScaleService:       true,
	ActionRollbackDeployment: true,
}

// IsDestructive reports whether the action type is in the destructive set.
func (t ActionType) IsDestructive() bool {
	return destructiveActions[t]
}

// Priority orders actions within a plan.
type Priority string

// Priorities, highest first.
const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
	PriorityDeferred Priority = "DEFERRED"
)

// Rank returns a sortable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority coerces tracker-flavored priority names. Unknown names fall
// back to MEDIUM.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "urgent", "blocker", "highest":
		return PriorityCritical
	case "high", "major":
		return PriorityHigh
	case "medium", "normal", "default":
		return PriorityMedium
	case "low", "minor":
		return PriorityLow
	case "deferred", "backlog", "trivial", "lowest":
		return PriorityDeferred
	default:
		return PriorityMedium
	}
}

// PriorityFromScore maps a numeric priority to the enum. Values 1-5 read as
// ranks (1 highest); anything else reads as a 0-100 urgency score.
func PriorityFromScore(score int) Priority {
	if score >= 1 && score <= 5 {
		return [...]Priority{
			PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityDeferred,
		}[score-1]
	}
	switch {
	case score >= 90:
		return PriorityCritical
	case score >= 70:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	case score >= 10:
		return PriorityLow
	default:
		return PriorityDeferred
	}
}

// SafetyLevel classifies how much damage an action can do.
type SafetyLevel string

// Safety levels, least restrictive first.
const (
	SafetySafe      SafetyLevel = "SAFE"
	SafetyCautious  SafetyLevel = "CAUTIOUS"
	SafetyRisky     SafetyLevel = "RISKY"
	SafetyDangerous SafetyLevel = "DANGEROUS"
)

// Rank returns a sortable weight, higher is more restrictive.
func (s SafetyLevel) Rank() int {
	switch s {
	case SafetySafe:
		return 0
	case SafetyCautious:
		return 1
	case SafetyRisky:
		return 2
	case SafetyDangerous:
		return 3
	default:
		return 1
	}
}

// ParseSafetyLevel coerces free-form safety names. Unknown names fall back to
// CAUTIOUS rather than SAFE.
func ParseSafetyLevel(raw string) SafetyLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "safe", "green", "low":
		return SafetySafe
	case "cautious", "moderate", "yellow":
		return SafetyCautious
	case "risky", "risk", "orange":
		return SafetyRisky
	case "dangerous", "critical", "red":
		return SafetyDangerous
	default:
		return SafetyCautious
	}
}

// RollbackPlan describes how to undo an action after the fact. Procedure
// names a registered rollback procedure on the execution controller.
type RollbackPlan struct {
	Procedure   string // Registered procedure name, e.g. "revert_merge"
	Target      string // What to roll back, usually the action's target
	Description string
}

// PlannedAction is one unit of work inside an execution plan.
type PlannedAction struct {
	ID                    string
	Type                  ActionType
	Priority              Priority
	SafetyLevel           SafetyLevel
	ConfidenceScore       float64                // Planner confidence this action is right, [0,1]
	ContextCompleteness   float64                // Completeness of the context it was planned from, [0,1]
	HistoricalSuccess     float64                // Past success rate for this action shape, [0,1], 0 = unknown
	Target                string                 // Issue key, repo#pr, service name, channel, ...
	Parameters            map[string]interface{} // Executor-specific inputs, opaque to the core
	Prerequisites         []string               // Named predicates that must hold before execution
	HumanApprovalRequired bool                   // Forces the plan through the approval gate
	RollbackPlan          *RollbackPlan          // nil when the action has no undo
	MaxRetries            int                    // Attempts beyond the first
	Timeout               time.Duration          // Per-attempt budget
	EstimatedDuration     time.Duration          // Planning estimate, drives prioritization and windows
	Reason                string                 // Why the planner proposed this
}

// Validate checks the fields the executor depends on.
func (a *PlannedAction) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("action type is required")
	}
	if a.Target == "" {
		return fmt.Errorf("action %s has no target", a.Type)
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
		return fmt.Errorf("confidence score must be in [0,1], got %v", a.ConfidenceScore)
	}
	if a.ContextCompleteness < 0 || a.ContextCompleteness > 1 {
		return fmt.Errorf("context completeness must be in [0,1], got %v", a.ContextCompleteness)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", a.Timeout)
	}
	return nil
}
