package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

func newTestPlanner(t *testing.T) *AutoPlanner {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PlaybookDir = "" // No playbooks unless a test loads them explicitly
	return New(cfg, logger.NewConsoleLogger(nil, "error"))
}

func jiraEvent() *models.ProcessedEvent {
	return &models.ProcessedEvent{
		ID:         "evt-1",
		Source:     "jira",
		EventType:  "issue_updated",
		Title:      "PROJ-42 updated",
		ReceivedAt: time.Now(),
	}
}

func jiraContext(completeness, complexity float64) *models.ResolvedContext {
	return &models.ResolvedContext{
		ContextType: models.ContextJira,
		PrimaryObject: map[string]interface{}{
			"key":      "PROJ-42",
			"assignee": "navi",
			"status":   "To Do",
		},
		ComplexityScore:     complexity,
		ContextCompleteness: completeness,
		ResolvedAt:          time.Now(),
	}
}

func TestLowContextYieldsGatherPlan(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.4, 0.2))

	require.Len(t, plan.PrimaryActions, 1)
	action := plan.PrimaryActions[0]
	assert.Equal(t, models.ActionGatherMoreContext, action.Type)
	assert.Equal(t, 0.9, action.ConfidenceScore)
	assert.Empty(t, plan.ContingencyActions)
	assert.Empty(t, plan.MonitoringActions)
}

func TestNilContextYieldsGatherPlan(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.CreateExecutionPlan(jiraEvent(), nil)

	require.Len(t, plan.PrimaryActions, 1)
	assert.Equal(t, models.ActionGatherMoreContext, plan.PrimaryActions[0].Type)
}

func TestAssignedSimpleIssueGetsImplemented(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))

	var impl *models.PlannedAction
	for i := range plan.PrimaryActions {
		if plan.PrimaryActions[i].Type == models.ActionImplementFeature {
			impl = &plan.PrimaryActions[i]
			break
		}
	}
	require.NotNil(t, impl, "expected IMPLEMENT_FEATURE in plan, got %v", plan.PrimaryActions)
	assert.Equal(t, models.SafetySafe, impl.SafetyLevel)
	assert.Equal(t, 0.8, impl.ConfidenceScore)
	assert.Equal(t, "PROJ-42", impl.Target)
}

func TestFilterViableActionsIsSubset(t *testing.T) {
	p := newTestPlanner(t)

	actions := []models.PlannedAction{
		{Type: models.ActionAddComment, ConfidenceScore: 0.75, ContextCompleteness: 0.8},  // keep
		{Type: models.ActionAddComment, ConfidenceScore: 0.65, ContextCompleteness: 0.8},  // below global threshold
		{Type: models.ActionAddComment, ConfidenceScore: 0.9, ContextCompleteness: 0.5},   // below completeness floor
		{Type: models.ActionMergePR, ConfidenceScore: 0.85, ContextCompleteness: 0.9},     // below MERGE_PR requirement (0.9)
		{Type: models.ActionMergePR, ConfidenceScore: 0.95, ContextCompleteness: 0.9},     // keep
		{Type: models.ActionRestartService, ConfidenceScore: 0.9, ContextCompleteness: 1}, // below RESTART_SERVICE requirement (0.95)
	}

	viable := p.FilterViableActions(actions)

	require.Len(t, viable, 2)
	for _, a := range viable {
		assert.GreaterOrEqual(t, a.ConfidenceScore, 0.7)
		assert.GreaterOrEqual(t, a.ContextCompleteness, 0.6)
		assert.GreaterOrEqual(t, a.ConfidenceScore, p.SafetyRequirement(a.Type))
	}
}

func TestPrioritizeActionsOrdering(t *testing.T) {
	actions := []models.PlannedAction{
		{ID: "slow-high-conf", Priority: models.PriorityMedium, ConfidenceScore: 0.9, EstimatedDuration: time.Hour},
		{ID: "critical", Priority: models.PriorityCritical, ConfidenceScore: 0.7, EstimatedDuration: time.Hour},
		{ID: "fast-high-conf", Priority: models.PriorityMedium, ConfidenceScore: 0.9, EstimatedDuration: time.Minute},
		{ID: "low", Priority: models.PriorityLow, ConfidenceScore: 0.99, EstimatedDuration: time.Second},
	}

	sorted := PrioritizeActions(actions)

	got := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID, sorted[3].ID}
	want := []string{"critical", "fast-high-conf", "slow-high-conf", "low"}
	assert.Equal(t, want, got)

	// Input must be untouched.
	assert.Equal(t, "slow-high-conf", actions[0].ID)
}

func TestPrioritizeActionsIsStable(t *testing.T) {
	// Identical sort keys keep their input order.
	actions := []models.PlannedAction{
		{ID: "first", Priority: models.PriorityHigh, ConfidenceScore: 0.8, EstimatedDuration: time.Minute},
		{ID: "second", Priority: models.PriorityHigh, ConfidenceScore: 0.8, EstimatedDuration: time.Minute},
		{ID: "third", Priority: models.PriorityHigh, ConfidenceScore: 0.8, EstimatedDuration: time.Minute},
	}

	sorted := PrioritizeActions(actions)
	assert.Equal(t, "first", sorted[0].ID)
	assert.Equal(t, "second", sorted[1].ID)
	assert.Equal(t, "third", sorted[2].ID)
}

func TestPlanCapsPrimaryActions(t *testing.T) {
	p := newTestPlanner(t)
	p.RegisterStrategy(models.ContextJira, func(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		var actions []models.PlannedAction
		for i := 0; i < 10; i++ {
			a := p.newCandidate(models.ActionAddComment, "PROJ-42", rc)
			a.ConfidenceScore = 0.8
			actions = append(actions, a)
		}
		return actions
	})

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))

	assert.Len(t, plan.PrimaryActions, p.cfg.MaxSimultaneousActions)
}

func TestContingencyAndMonitoringGeneration(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))

	require.NotEmpty(t, plan.PrimaryActions)
	// One escalation contingency per primary action.
	require.Len(t, plan.ContingencyActions, len(plan.PrimaryActions))
	for _, c := range plan.ContingencyActions {
		assert.Equal(t, models.ActionEscalateIssue, c.Type)
	}
	// Exactly one progress monitor.
	require.Len(t, plan.MonitoringActions, 1)
	assert.Equal(t, models.ActionMonitorProgress, plan.MonitoringActions[0].Type)
}

func TestPlannerPanicYieldsFallbackPlan(t *testing.T) {
	p := newTestPlanner(t)
	p.RegisterStrategy(models.ContextJira, func(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		panic("strategy exploded")
	})

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))

	require.NotNil(t, plan)
	require.Len(t, plan.PrimaryActions, 1)
	action := plan.PrimaryActions[0]
	assert.Equal(t, models.ActionWaitForHuman, action.Type)
	assert.Equal(t, 1.0, action.ConfidenceScore)
	assert.Equal(t, models.SafetySafe, plan.OverallSafety)
}

func TestPlanDerivedFields(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextDeployment,
		PrimaryObject: map[string]interface{}{
			"service": "payments",
			"health":  "degraded",
		},
		ContextCompleteness: 0.9,
	}
	plan := p.CreateExecutionPlan(jiraEvent(), rc)

	require.NotEmpty(t, plan.PrimaryActions)
	assert.Equal(t, models.PriorityCritical, plan.OverallPriority)
	// Critical work executes immediately regardless of the risky rollback.
	require.NotNil(t, plan.ExecutionWindow)
	assert.Equal(t, models.WindowImmediate, plan.ExecutionWindow.Kind)
	// The rollback action requires approval, so the plan does too.
	assert.True(t, plan.HumanApprovalNeeded)
	assert.WithinDuration(t, plan.CreatedAt.Add(models.PlanTTL), plan.ExpiresAt, time.Second)
}

func TestUnknownPrerequisiteBlocksPlan(t *testing.T) {
	p := newTestPlanner(t)
	p.RegisterStrategy(models.ContextJira, func(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		a := p.newCandidate(models.ActionAddComment, "PROJ-42", rc)
		a.ConfidenceScore = 0.8
		a.Prerequisites = []string{"no_such_predicate"}
		return []models.PlannedAction{a}
	})

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))
	assert.False(t, plan.PrerequisitesMet)
}

func TestRegisteredPredicateIsEvaluated(t *testing.T) {
	p := newTestPlanner(t)
	called := false
	p.RegisterPredicate("custom_gate", func(a models.PlannedAction, rc *models.ResolvedContext) bool {
		called = true
		return true
	})
	p.RegisterStrategy(models.ContextJira, func(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		a := p.newCandidate(models.ActionAddComment, "PROJ-42", rc)
		a.ConfidenceScore = 0.8
		a.Prerequisites = []string{"custom_gate"}
		return []models.PlannedAction{a}
	})

	plan := p.CreateExecutionPlan(jiraEvent(), jiraContext(0.9, 0.2))
	assert.True(t, called)
	assert.True(t, plan.PrerequisitesMet)
}
