package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/models"
)

func TestJiraStrategyComplexIssueAsksForBreakdown(t *testing.T) {
	p := newTestPlanner(t)

	rc := jiraContext(0.9, 0.85)
	actions := p.jiraStrategy(jiraEvent(), rc)

	require.NotEmpty(t, actions)
	assert.Equal(t, models.ActionAddComment, actions[0].Type)
	assert.Contains(t, actions[0].Parameters["comment"], "break it into smaller pieces")
}

func TestJiraStrategyUnassignedIssueGetsClaimed(t *testing.T) {
	p := newTestPlanner(t)

	rc := jiraContext(0.9, 0.3)
	rc.PrimaryObject["assignee"] = ""
	actions := p.jiraStrategy(jiraEvent(), rc)

	require.NotEmpty(t, actions)
	assert.Equal(t, models.ActionAssignIssue, actions[0].Type)
	assert.Equal(t, "navi", actions[0].Parameters["assignee"])
}

func TestJiraStrategyUrgencyAddsNotification(t *testing.T) {
	p := newTestPlanner(t)

	rc := jiraContext(0.9, 0.3)
	rc.UrgencyIndicators = []string{"production", "outage"}
	actions := p.jiraStrategy(jiraEvent(), rc)

	found := false
	for _, a := range actions {
		if a.Type == models.ActionNotifyTeam {
			found = true
			assert.Equal(t, models.PriorityHigh, a.Priority)
		}
	}
	assert.True(t, found, "expected NOTIFY_TEAM for urgent issue")
}

func TestGithubStrategyMergesWhenGreen(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextGitHub,
		PrimaryObject: map[string]interface{}{
			"ref":          "org/repo#17",
			"mergeable":    "true",
			"review_state": "approved",
			"checks":       "passed",
		},
		ContextCompleteness: 0.9,
	}
	actions := p.githubStrategy(jiraEvent(), rc)

	require.Len(t, actions, 1)
	merge := actions[0]
	assert.Equal(t, models.ActionMergePR, merge.Type)
	assert.True(t, merge.HumanApprovalRequired)
	require.NotNil(t, merge.RollbackPlan)
	assert.Equal(t, "revert_merge", merge.RollbackPlan.Procedure)
	// High enough to clear the MERGE_PR safety requirement.
	assert.GreaterOrEqual(t, merge.ConfidenceScore, 0.9)
}

func TestGithubStrategyFailingChecksGetReviewAndComment(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextGitHub,
		PrimaryObject: map[string]interface{}{
			"ref":    "org/repo#18",
			"checks": "failed",
		},
		ContextCompleteness: 0.9,
	}
	actions := p.githubStrategy(jiraEvent(), rc)

	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionReviewPR, actions[0].Type)
	assert.Equal(t, models.ActionAddComment, actions[1].Type)
}

func TestCIStrategyRerunsFailedBuild(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextCI,
		PrimaryObject: map[string]interface{}{
			"build_id":   "build-991",
			"conclusion": "failure",
			"branch":     "main",
		},
		ContextCompleteness: 0.8,
	}
	actions := p.ciStrategy(jiraEvent(), rc)

	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionRunTests, actions[0].Type)

	rc.PrimaryObject["consecutive_failures"] = "4"
	actions = p.ciStrategy(jiraEvent(), rc)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionCreateIssue, actions[1].Type)
}

func TestDeploymentStrategyHealthyServiceProposesNothing(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextDeployment,
		PrimaryObject: map[string]interface{}{
			"service": "payments",
			"health":  "healthy",
		},
		ContextCompleteness: 0.9,
	}
	actions := p.deploymentStrategy(jiraEvent(), rc)
	assert.Empty(t, actions)
}

func TestDeploymentStrategyDegradedProposesRollback(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextDeployment,
		PrimaryObject: map[string]interface{}{
			"service":          "payments",
			"health":           "degraded",
			"previous_version": "v1.4.2",
		},
		ContextCompleteness: 0.9,
	}
	actions := p.deploymentStrategy(jiraEvent(), rc)

	require.Len(t, actions, 2)
	rb := actions[0]
	assert.Equal(t, models.ActionRollbackDeployment, rb.Type)
	assert.Equal(t, models.PriorityCritical, rb.Priority)
	assert.Equal(t, models.SafetyRisky, rb.SafetyLevel)
	assert.True(t, rb.HumanApprovalRequired)
	assert.Equal(t, "v1.4.2", rb.Parameters["previous_version"])
}

func TestGenericStrategyGathersContext(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType:         models.ContextType("pagerduty"),
		ContextCompleteness: 0.9,
	}
	plan := p.CreateExecutionPlan(jiraEvent(), rc)

	require.Len(t, plan.PrimaryActions, 1)
	assert.Equal(t, models.ActionGatherMoreContext, plan.PrimaryActions[0].Type)
}

func TestSlackStrategyRepliesInThread(t *testing.T) {
	p := newTestPlanner(t)

	rc := &models.ResolvedContext{
		ContextType: models.ContextSlack,
		PrimaryObject: map[string]interface{}{
			"channel":   "eng-oncall",
			"thread_ts": "1724900000.000100",
		},
		ContextCompleteness: 0.8,
	}
	actions := p.slackStrategy(jiraEvent(), rc)

	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionSendMessage, actions[0].Type)
	assert.Equal(t, "slack:eng-oncall", actions[0].Target)
	assert.Equal(t, time.Minute, actions[0].EstimatedDuration)
}
