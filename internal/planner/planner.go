// Package planner turns a normalized event plus its resolved context into a
// confidence- and safety-scored ExecutionPlan. Planning never fails outward:
// low context produces a gather-more-context plan and any internal panic is
// replaced with a safe wait-for-human fallback.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

// minContextCompleteness is the floor below which the planner refuses to
// propose real work and asks for more context instead.
const minContextCompleteness = 0.6

// actionSafetyRequirements maps action types to the minimum confidence the
// planner demands before proposing them. Types not listed fall back to the
// configured global threshold.
var actionSafetyRequirements = map[models.ActionType]float64{
	models.ActionMergePR:              0.9,
	models.ActionCreatePR:             0.8,
	models.ActionRestartService:       0.95,
	models.ActionRollbackDeployment:   0.95,
	models.ActionScaleService:         0.9,
	models.ActionImplementFeature:     0.75,
	models.ActionFixBug:               0.75,
	models.ActionReviewPR:             0.7,
	models.ActionAssignIssue:          0.6,
	models.ActionUpdateStatus:         0.6,
	models.ActionCreateIssue:          0.6,
	models.ActionSendMessage:          0.6,
	models.ActionNotifyTeam:           0.6,
	models.ActionRunTests:             0.6,
	models.ActionUpdateDocumentation:  0.6,
	models.ActionAddComment:           0.5,
	models.ActionGatherMoreContext:    0.5,
	models.ActionRequestClarification: 0.5,
	models.ActionWaitForHuman:         0.0,
	models.ActionEscalateIssue:        0.5,
	models.ActionMonitorProgress:      0.5,
}

// Strategy proposes candidate actions for one context type. Candidates go
// through the viability filter before reaching a plan.
type Strategy func(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction

// Predicate is a named prerequisite check evaluated against the resolved
// context before a plan is marked ready.
type Predicate func(action models.PlannedAction, rc *models.ResolvedContext) bool

// AutoPlanner builds execution plans from events and resolved contexts.
type AutoPlanner struct {
	cfg        *config.Config
	log        *logger.ConsoleLogger
	strategies map[models.ContextType]Strategy
	playbooks  []*Playbook
	predicates map[string]Predicate
	clock      func() time.Time
}

// New creates an AutoPlanner with the builtin strategies and prerequisite
// predicates registered. Playbooks are loaded from cfg.PlaybookDir when the
// directory exists; a missing or unreadable playbook dir is not an error.
func New(cfg *config.Config, log *logger.ConsoleLogger) *AutoPlanner {
	p := &AutoPlanner{
		cfg:        cfg,
		log:        log,
		strategies: make(map[models.ContextType]Strategy),
		predicates: make(map[string]Predicate),
		clock:      time.Now,
	}

	p.strategies[models.ContextJira] = p.jiraStrategy
	p.strategies[models.ContextGitHub] = p.githubStrategy
	p.strategies[models.ContextSlack] = p.slackStrategy
	p.strategies[models.ContextCI] = p.ciStrategy
	p.strategies[models.ContextDeployment] = p.deploymentStrategy

	p.predicates["business_hours"] = func(_ models.PlannedAction, _ *models.ResolvedContext) bool {
		return models.BusinessHoursWindow().Contains(p.clock())
	}
	p.predicates["no_active_incident"] = func(_ models.PlannedAction, rc *models.ResolvedContext) bool {
		return !rc.Urgent()
	}
	p.predicates["context_resolved"] = func(_ models.PlannedAction, rc *models.ResolvedContext) bool {
		return rc != nil && rc.ContextCompleteness >= minContextCompleteness
	}

	if cfg.PlaybookDir != "" {
		playbooks, err := LoadPlaybooks(cfg.PlaybookDir)
		if err != nil {
			log.Warnf("planner: failed to load playbooks from %s: %v", cfg.PlaybookDir, err)
		} else {
			p.playbooks = playbooks
		}
	}

	return p
}

// RegisterStrategy replaces or adds the strategy for a context type.
func (p *AutoPlanner) RegisterStrategy(ct models.ContextType, s Strategy) {
	p.strategies[ct] = s
}

// RegisterPredicate replaces or adds a named prerequisite predicate.
func (p *AutoPlanner) RegisterPredicate(name string, pred Predicate) {
	p.predicates[name] = pred
}

// SafetyRequirement returns the minimum confidence required to propose the
// given action type.
func (p *AutoPlanner) SafetyRequirement(t models.ActionType) float64 {
	if req, ok := actionSafetyRequirements[t]; ok {
		return req
	}
	return p.cfg.ConfidenceThreshold
}

// CreateExecutionPlan builds a plan for one event. It never propagates an
// error: insufficient context yields a gather-more-context plan and any
// internal panic yields the wait-for-human fallback.
func (p *AutoPlanner) CreateExecutionPlan(event *models.ProcessedEvent, rc *models.ResolvedContext) (plan *models.ExecutionPlan) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("planner: recovered from %v, substituting fallback plan", r)
			plan = p.FallbackPlan(event, fmt.Sprintf("planning failed internally: %v", r))
		}
	}()

	now := p.clock()

	if rc == nil || rc.ContextCompleteness < minContextCompleteness {
		return p.gatherContextPlan(event, rc, now)
	}

	candidates := p.propose(event, rc)
	viable := p.FilterViableActions(candidates)
	prioritized := PrioritizeActions(viable)

	primaries := prioritized
	if len(primaries) > p.cfg.MaxSimultaneousActions {
		primaries = primaries[:p.cfg.MaxSimultaneousActions]
	}

	plan = p.assemble(event, rc, primaries, now)
	p.log.Debugf("planner: %d candidates, %d viable, %d primary for event %s",
		len(candidates), len(viable), len(primaries), event.ID)
	return plan
}

// propose collects candidates from the per-context-type strategy (or the
// generic fallback) plus any playbooks matching the context type.
func (p *AutoPlanner) propose(event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	strategy, ok := p.strategies[rc.ContextType]
	if !ok {
		strategy = p.genericStrategy
	}
	candidates := strategy(event, rc)

	for _, pb := range p.playbooks {
		if pb.Matches(rc.ContextType) {
			candidates = append(candidates, pb.Propose(p, event, rc)...)
		}
	}
	return candidates
}

// FilterViableActions drops candidates whose confidence or context backing is
// insufficient. The result is always a subset of the input, and every
// survivor satisfies the global confidence threshold, the completeness floor
// and its type-specific safety requirement.
func (p *AutoPlanner) FilterViableActions(actions []models.PlannedAction) []models.PlannedAction {
	viable := make([]models.PlannedAction, 0, len(actions))
	for _, a := range actions {
		if a.ConfidenceScore < p.cfg.ConfidenceThreshold {
			continue
		}
		if a.ContextCompleteness < minContextCompleteness {
			continue
		}
		if a.ConfidenceScore < p.SafetyRequirement(a.Type) {
			continue
		}
		viable = append(viable, a)
	}
	return viable
}

// PrioritizeActions stably sorts actions by priority rank (desc), then
// confidence (desc), then estimated duration (asc, shorter preferred).
func PrioritizeActions(actions []models.PlannedAction) []models.PlannedAction {
	sorted := make([]models.PlannedAction, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		return a.EstimatedDuration < b.EstimatedDuration
	})
	return sorted
}

// assemble derives the plan-level fields and side-plans from the primaries.
func (p *AutoPlanner) assemble(event *models.ProcessedEvent, rc *models.ResolvedContext, primaries []models.PlannedAction, now time.Time) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		PrimaryActions:     primaries,
		ContingencyActions: p.contingencyActions(primaries),
		MonitoringActions:  p.monitoringActions(event, primaries),
		OverallConfidence:  models.DeriveOverallConfidence(primaries),
		OverallSafety:      models.DeriveOverallSafety(primaries),
		OverallPriority:    models.DeriveOverallPriority(primaries),
		ExecutionWindow:    models.DeriveExecutionWindow(primaries),
		CreatedAt:          now,
		ExpiresAt:          now.Add(models.PlanTTL),
	}

	plan.PrerequisitesMet = p.checkPrerequisites(primaries, rc)
	for _, a := range primaries {
		if a.HumanApprovalRequired {
			plan.HumanApprovalNeeded = true
			break
		}
	}
	return plan
}

// contingencyActions generates one escalation action per primary action,
// executed only if that primary work fails.
func (p *AutoPlanner) contingencyActions(primaries []models.PlannedAction) []models.PlannedAction {
	contingencies := make([]models.PlannedAction, 0, len(primaries))
	for _, a := range primaries {
		contingencies = append(contingencies, models.PlannedAction{
			ID:                  uuid.NewString(),
			Type:                models.ActionEscalateIssue,
			Priority:            models.PriorityHigh,
			SafetyLevel:         models.SafetySafe,
			ConfidenceScore:     0.9,
			ContextCompleteness: a.ContextCompleteness,
			Target:              a.Target,
			Parameters: map[string]interface{}{
				"failed_action_id":   a.ID,
				"failed_action_type": string(a.Type),
			},
			MaxRetries:        p.cfg.DefaultMaxRetries,
			Timeout:           p.cfg.DefaultActionTimeout,
			EstimatedDuration: 5 * time.Minute,
			Reason:            fmt.Sprintf("escalate if %s on %s fails", a.Type, a.Target),
		})
	}
	return contingencies
}

// monitoringActions generates one progress monitor when the plan has any
// primary work. Monitors run detached and never block plan completion.
func (p *AutoPlanner) monitoringActions(event *models.ProcessedEvent, primaries []models.PlannedAction) []models.PlannedAction {
	if len(primaries) == 0 {
		return nil
	}
	return []models.PlannedAction{{
		ID:                  uuid.NewString(),
		Type:                models.ActionMonitorProgress,
		Priority:            models.PriorityLow,
		SafetyLevel:         models.SafetySafe,
		ConfidenceScore:     0.9,
		ContextCompleteness: 1.0,
		Target:              event.ID,
		Parameters: map[string]interface{}{
			"action_count": len(primaries),
		},
		MaxRetries:        0,
		Timeout:           p.cfg.DefaultActionTimeout,
		EstimatedDuration: time.Minute,
		Reason:            "watch primary actions for stalls",
	}}
}

// checkPrerequisites evaluates every named prerequisite on every primary
// action. An unknown predicate name counts as unmet.
func (p *AutoPlanner) checkPrerequisites(primaries []models.PlannedAction, rc *models.ResolvedContext) bool {
	for _, a := range primaries {
		for _, name := range a.Prerequisites {
			pred, ok := p.predicates[name]
			if !ok {
				p.log.Warnf("planner: unknown prerequisite %q on action %s", name, a.ID)
				return false
			}
			if !pred(a, rc) {
				return false
			}
		}
	}
	return true
}

// gatherContextPlan is the single-action plan returned when context is too
// thin to act on. No strategy dispatch happens.
func (p *AutoPlanner) gatherContextPlan(event *models.ProcessedEvent, rc *models.ResolvedContext, now time.Time) *models.ExecutionPlan {
	completeness := 0.0
	if rc != nil {
		completeness = rc.ContextCompleteness
	}
	action := models.PlannedAction{
		ID:                  uuid.NewString(),
		Type:                models.ActionGatherMoreContext,
		Priority:            models.PriorityHigh,
		SafetyLevel:         models.SafetySafe,
		ConfidenceScore:     0.9,
		ContextCompleteness: 1.0,
		Target:              event.ID,
		Parameters: map[string]interface{}{
			"current_completeness": completeness,
		},
		MaxRetries:        p.cfg.DefaultMaxRetries,
		Timeout:           p.cfg.DefaultActionTimeout,
		EstimatedDuration: 5 * time.Minute,
		Reason:            fmt.Sprintf("context completeness %.2f below %.2f", completeness, minContextCompleteness),
	}
	plan := &models.ExecutionPlan{
		ID:                uuid.NewString(),
		EventID:           event.ID,
		PrimaryActions:    []models.PlannedAction{action},
		OverallConfidence: action.ConfidenceScore,
		OverallSafety:     models.SafetySafe,
		OverallPriority:   action.Priority,
		PrerequisitesMet:  true,
		Reason:            "insufficient context",
		CreatedAt:         now,
		ExpiresAt:         now.Add(models.PlanTTL),
	}
	return plan
}

// FallbackPlan is the deterministic safe plan substituted when planning
// itself fails: a single wait-for-human action with full confidence in
// doing nothing.
func (p *AutoPlanner) FallbackPlan(event *models.ProcessedEvent, reason string) *models.ExecutionPlan {
	now := p.clock()
	action := models.PlannedAction{
		ID:                  uuid.NewString(),
		Type:                models.ActionWaitForHuman,
		Priority:            models.PriorityMedium,
		SafetyLevel:         models.SafetySafe,
		ConfidenceScore:     1.0,
		ContextCompleteness: 1.0,
		Target:              event.ID,
		MaxRetries:          0,
		Timeout:             p.cfg.DefaultActionTimeout,
		EstimatedDuration:   time.Minute,
		Reason:              reason,
	}
	return &models.ExecutionPlan{
		ID:                uuid.NewString(),
		EventID:           event.ID,
		PrimaryActions:    []models.PlannedAction{action},
		OverallConfidence: 1.0,
		OverallSafety:     models.SafetySafe,
		OverallPriority:   action.Priority,
		PrerequisitesMet:  true,
		Reason:            reason,
		CreatedAt:         now,
		ExpiresAt:         now.Add(models.PlanTTL),
	}
}
