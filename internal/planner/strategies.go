package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/models"
)

// newCandidate fills the fields every strategy candidate shares.
func (p *AutoPlanner) newCandidate(t models.ActionType, target string, rc *models.ResolvedContext) models.PlannedAction {
	return models.PlannedAction{
		ID:                  uuid.NewString(),
		Type:                t,
		Priority:            models.PriorityMedium,
		SafetyLevel:         models.SafetySafe,
		ContextCompleteness: rc.ContextCompleteness,
		Target:              target,
		Parameters:          map[string]interface{}{},
		MaxRetries:          p.cfg.DefaultMaxRetries,
		Timeout:             p.cfg.DefaultActionTimeout,
		EstimatedDuration:   10 * time.Minute,
	}
}

// jiraStrategy proposes work for issue events: pick up issues assigned to the
// assistant, nudge overly complex ones back to a human, keep statuses honest.
func (p *AutoPlanner) jiraStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	var candidates []models.PlannedAction

	key := rc.StringField("key")
	if key == "" {
		key = event.ID
	}
	assignee := rc.StringField("assignee")
	status := strings.ToLower(rc.StringField("status"))

	if assignee == p.cfg.AssistantHandle {
		switch {
		case rc.ComplexityScore <= 0.4:
			// Simple enough to implement autonomously.
			a := p.newCandidate(models.ActionImplementFeature, key, rc)
			a.ConfidenceScore = 0.8
			a.SafetyLevel = models.SafetySafe
			a.EstimatedDuration = 2 * time.Hour
			a.HistoricalSuccess = 0.85
			a.Reason = fmt.Sprintf("issue %s assigned to %s with low complexity %.2f", key, assignee, rc.ComplexityScore)
			candidates = append(candidates, a)

			if status != "" && status != "in progress" {
				s := p.newCandidate(models.ActionUpdateStatus, key, rc)
				s.ConfidenceScore = 0.75
				s.Parameters["status"] = "In Progress"
				s.EstimatedDuration = time.Minute
				s.Reason = "reflect that work is starting"
				candidates = append(candidates, s)
			}

		case rc.ComplexityScore >= 0.7:
			// Too complex: ask for a breakdown rather than diving in.
			a := p.newCandidate(models.ActionAddComment, key, rc)
			a.ConfidenceScore = 0.75
			a.Parameters["comment"] = "This looks substantial. Could you break it into smaller pieces or add acceptance criteria?"
			a.EstimatedDuration = time.Minute
			a.Reason = fmt.Sprintf("complexity %.2f above autonomous ceiling", rc.ComplexityScore)
			candidates = append(candidates, a)

		default:
			// Middle ground: attempt a fix with cautious footing.
			a := p.newCandidate(models.ActionFixBug, key, rc)
			a.ConfidenceScore = 0.76
			a.SafetyLevel = models.SafetyCautious
			a.EstimatedDuration = time.Hour
			a.Reason = fmt.Sprintf("moderate complexity %.2f, proceeding cautiously", rc.ComplexityScore)
			candidates = append(candidates, a)
		}
	} else if assignee == "" {
		a := p.newCandidate(models.ActionAssignIssue, key, rc)
		a.ConfidenceScore = 0.72
		a.Parameters["assignee"] = p.cfg.AssistantHandle
		a.EstimatedDuration = time.Minute
		a.Reason = "unassigned issue in the assistant's queue"
		candidates = append(candidates, a)
	}

	if rc.Urgent() {
		n := p.newCandidate(models.ActionNotifyTeam, key, rc)
		n.ConfidenceScore = 0.8
		n.Priority = models.PriorityHigh
		n.Parameters["indicators"] = rc.UrgencyIndicators
		n.EstimatedDuration = time.Minute
		n.Reason = "urgency indicators present"
		candidates = append(candidates, n)
	}

	return candidates
}

// githubStrategy proposes work for pull request events: merge when everything
// is green and approved, review otherwise.
func (p *AutoPlanner) githubStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	var candidates []models.PlannedAction

	ref := rc.StringField("ref")
	if ref == "" {
		ref = event.ID
	}
	mergeable := rc.StringField("mergeable") == "true"
	approved := rc.StringField("review_state") == "approved"
	checksGreen := rc.StringField("checks") == "passed"

	if mergeable && approved && checksGreen {
		a := p.newCandidate(models.ActionMergePR, ref, rc)
		a.ConfidenceScore = 0.92
		a.SafetyLevel = models.SafetyCautious
		a.HumanApprovalRequired = true
		a.EstimatedDuration = 2 * time.Minute
		a.RollbackPlan = &models.RollbackPlan{
			Procedure:   "revert_merge",
			Target:      ref,
			Description: "revert the merge commit",
		}
		a.Reason = "approved, mergeable, checks passed"
		candidates = append(candidates, a)
	} else {
		a := p.newCandidate(models.ActionReviewPR, ref, rc)
		a.ConfidenceScore = 0.75
		a.EstimatedDuration = 30 * time.Minute
		a.Reason = "pull request awaiting review"
		candidates = append(candidates, a)
	}

	if !checksGreen && rc.StringField("checks") == "failed" {
		a := p.newCandidate(models.ActionAddComment, ref, rc)
		a.ConfidenceScore = 0.75
		a.Parameters["comment"] = "CI is failing on this branch; see the checks tab for details."
		a.EstimatedDuration = time.Minute
		a.Reason = "surface failing checks to the author"
		candidates = append(candidates, a)
	}

	return candidates
}

// slackStrategy proposes a reply for chat events, or a context grab when the
// message is too vague to answer.
func (p *AutoPlanner) slackStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	var candidates []models.PlannedAction

	channel := rc.StringField("channel")
	if channel == "" {
		channel = event.ID
	}

	a := p.newCandidate(models.ActionSendMessage, "slack:"+channel, rc)
	a.ConfidenceScore = 0.75
	a.Parameters["thread_ts"] = rc.StringField("thread_ts")
	a.EstimatedDuration = time.Minute
	a.Reason = "respond in thread"
	candidates = append(candidates, a)

	return candidates
}

// ciStrategy proposes a rerun for flaky-looking failures and an issue for
// persistent ones.
func (p *AutoPlanner) ciStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	var candidates []models.PlannedAction

	build := rc.StringField("build_id")
	if build == "" {
		build = event.ID
	}

	if rc.StringField("conclusion") == "failure" {
		rerun := p.newCandidate(models.ActionRunTests, build, rc)
		rerun.ConfidenceScore = 0.8
		rerun.Priority = models.PriorityHigh
		rerun.EstimatedDuration = 15 * time.Minute
		rerun.Reason = "retry the failed build before raising noise"
		candidates = append(candidates, rerun)

		if failures, err := strconv.Atoi(rc.StringField("consecutive_failures")); err == nil && failures >= 3 {
			issue := p.newCandidate(models.ActionCreateIssue, build, rc)
			issue.ConfidenceScore = 0.75
			issue.Priority = models.PriorityHigh
			issue.Parameters["title"] = fmt.Sprintf("CI failing repeatedly on %s", rc.StringField("branch"))
			issue.EstimatedDuration = 2 * time.Minute
			issue.Reason = "persistent build failure"
			candidates = append(candidates, issue)
		}
	}

	return candidates
}

// deploymentStrategy proposes a rollback for degraded deployments and always
// keeps the team informed.
func (p *AutoPlanner) deploymentStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	var candidates []models.PlannedAction

	service := rc.StringField("service")
	if service == "" {
		service = event.ID
	}

	if rc.StringField("health") == "degraded" || rc.StringField("status") == "failed" {
		rb := p.newCandidate(models.ActionRollbackDeployment, service, rc)
		rb.ConfidenceScore = 0.96
		rb.SafetyLevel = models.SafetyRisky
		rb.Priority = models.PriorityCritical
		rb.HumanApprovalRequired = true
		rb.EstimatedDuration = 10 * time.Minute
		rb.Parameters["previous_version"] = rc.StringField("previous_version")
		rb.RollbackPlan = &models.RollbackPlan{
			Procedure:   "redeploy_current",
			Target:      service,
			Description: "re-deploy the version that was rolled back",
		}
		rb.Reason = "deployment degraded, previous version known-good"
		candidates = append(candidates, rb)

		notify := p.newCandidate(models.ActionNotifyTeam, service, rc)
		notify.ConfidenceScore = 0.85
		notify.Priority = models.PriorityCritical
		notify.EstimatedDuration = time.Minute
		notify.Reason = "deployment incident in progress"
		candidates = append(candidates, notify)
	}

	return candidates
}

// genericStrategy is the fallback for unknown context types: gather more
// context rather than guessing.
func (p *AutoPlanner) genericStrategy(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	a := p.newCandidate(models.ActionGatherMoreContext, event.ID, rc)
	a.ConfidenceScore = 0.75
	a.EstimatedDuration = 5 * time.Minute
	a.Reason = fmt.Sprintf("no strategy for context type %q", rc.ContextType)
	return []models.PlannedAction{a}
}
