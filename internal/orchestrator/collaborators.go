package orchestrator

import (
	"context"
	"time"

	"github.com/harrison/autopilot/internal/models"
)

// ContextResolver builds the situational-awareness bundle for one event.
// Production resolvers talk to the source systems (issue trackers, code
// hosts, chat); the orchestrator only sees this interface.
type ContextResolver interface {
	Resolve(ctx context.Context, event *models.ProcessedEvent) (*models.ResolvedContext, error)
}

// Reporter receives loop milestones for outbound reporting. Every dispatch
// is fire and forget: a failure is logged, never propagated into the loop.
// Implementations must tolerate being called concurrently.
type Reporter interface {
	// PlanCreated fires as soon as a plan exists, before any approval gate
	// blocks the loop.
	PlanCreated(ctx context.Context, loopID string, plan *models.ExecutionPlan) error
	// ActionExecuted fires once per execution result, success or failure.
	ActionExecuted(ctx context.Context, loopID string, result models.ExecutionResult) error
	// VerificationCompleted fires once per verification result.
	VerificationCompleted(ctx context.Context, loopID string, vr models.VerificationResult) error
	// SafetyAlert fires when a safety gate blocks an action or a loop
	// escalates to a human.
	SafetyAlert(ctx context.Context, loopID string, reason string) error
	// LoopFinished fires after the loop is finalized.
	LoopFinished(ctx context.Context, loop *models.LoopExecution) error
}

// Learner receives finalized loops so future planning can improve on past
// outcomes. Like Reporter it runs detached.
type Learner interface {
	Learn(ctx context.Context, loop *models.LoopExecution) error
}

// NoopResolver is the default resolver: it wraps the raw event payload with
// low completeness, which steers the planner toward gathering more context
// rather than acting on thin information.
type NoopResolver struct{}

// Resolve implements ContextResolver.
func (NoopResolver) Resolve(_ context.Context, event *models.ProcessedEvent) (*models.ResolvedContext, error) {
	return &models.ResolvedContext{
		ContextType:         models.ContextType(event.Source),
		PrimaryObject:       event.Payload,
		ContextCompleteness: 0.5,
		ResolvedAt:          time.Now(),
	}, nil
}

// NoopReporter discards reports.
type NoopReporter struct{}

func (NoopReporter) PlanCreated(_ context.Context, _ string, _ *models.ExecutionPlan) error {
	return nil
}

func (NoopReporter) ActionExecuted(_ context.Context, _ string, _ models.ExecutionResult) error {
	return nil
}

func (NoopReporter) VerificationCompleted(_ context.Context, _ string, _ models.VerificationResult) error {
	return nil
}

func (NoopReporter) SafetyAlert(_ context.Context, _ string, _ string) error { return nil }

func (NoopReporter) LoopFinished(_ context.Context, _ *models.LoopExecution) error { return nil }

// NoopLearner discards outcomes.
type NoopLearner struct{}

// Learn implements Learner.
func (NoopLearner) Learn(_ context.Context, _ *models.LoopExecution) error { return nil }
