package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/executor"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

type resolverFunc func(ctx context.Context, event *models.ProcessedEvent) (*models.ResolvedContext, error)

func (f resolverFunc) Resolve(ctx context.Context, event *models.ProcessedEvent) (*models.ResolvedContext, error) {
	return f(ctx, event)
}

func jiraResolver(completeness float64) ContextResolver {
	return resolverFunc(func(_ context.Context, _ *models.ProcessedEvent) (*models.ResolvedContext, error) {
		return &models.ResolvedContext{
			ContextType: models.ContextJira,
			PrimaryObject: map[string]interface{}{
				"key":      "PROJ-42",
				"assignee": "navi",
			},
			ComplexityScore:     0.2,
			ContextCompleteness: completeness,
			ResolvedAt:          time.Now(),
		}, nil
	})
}

func testEvent() *models.ProcessedEvent {
	return &models.ProcessedEvent{
		ID:         "evt-" + uuid.NewString(),
		Source:     "jira",
		EventType:  "issue_updated",
		Title:      "PROJ-42 updated",
		ReceivedAt: time.Now(),
	}
}

func newTestOrchestrator(t *testing.T, mutate func(*config.Config), opts ...Option) *Orchestrator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PlaybookDir = ""
	cfg.Audit.Enabled = false
	cfg.Approval.InboxDir = ""
	cfg.Approval.PollInterval = 10 * time.Millisecond
	cfg.Approval.Timeout = 2 * time.Second
	cfg.DefaultActionTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{WithResolver(jiraResolver(0.9))}, opts...)
	o := New(cfg, logger.NewConsoleLogger(nil, "error"), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return o
}

// simpleStrategy replaces the builtin jira strategy with a single confident,
// safe comment so approval-policy tests control exactly what the plan holds.
func simpleStrategy(o *Orchestrator, conf float64) {
	o.Planner().RegisterStrategy(models.ContextJira, func(_ *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		return []models.PlannedAction{{
			ID:                  uuid.NewString(),
			Type:                models.ActionAddComment,
			Priority:            models.PriorityMedium,
			SafetyLevel:         models.SafetySafe,
			ConfidenceScore:     conf,
			ContextCompleteness: rc.ContextCompleteness,
			Target:              "PROJ-42",
			MaxRetries:          0,
			Timeout:             time.Second,
			EstimatedDuration:   time.Minute,
		}}
	})
}

// approveWhenAsked approves the first pending request in the background.
func approveWhenAsked(t *testing.T, o *Orchestrator, approved bool) *ApprovalRequest {
	t.Helper()
	got := &ApprovalRequest{}
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pending := o.PendingApprovals(); len(pending) > 0 {
				*got = pending[0]
				o.Approve(pending[0].ID, approved)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return got
}

func TestSupervisedLoopWaitsForApprovalThenExecutes(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.9)

	req := approveWhenAsked(t, o, true)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
	assert.True(t, loop.Succeeded())
	assert.Equal(t, 1.0, loop.Progress)
	// The gate fired before execution: supervised mode approves every plan.
	assert.Equal(t, loop.LoopID, req.LoopID)
	assert.Contains(t, req.Reason, "supervised")
	require.NotEmpty(t, loop.Verifications)
	assert.Equal(t, models.VerdictPassed, loop.Verifications[0].Verdict)
}

func TestApprovalDenialCancelsLoop(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.9)

	approveWhenAsked(t, o, false)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalCancelled, loop.FinalStatus)
	assert.Equal(t, "approval denied", loop.Error)
	assert.Empty(t, loop.Results, "nothing executes after a denial")
}

func TestApprovalTimeoutCancelsLoop(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.Approval.Timeout = 50 * time.Millisecond
	})
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalCancelled, loop.FinalStatus)
	assert.Contains(t, loop.Error, "approval")
	assert.Empty(t, loop.Results)
}

func TestAutonomousSafeConfidentPlanSkipsApproval(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
	assert.Empty(t, o.PendingApprovals())
}

func TestAutonomousLowConfidencePlanRunsWithoutGate(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.75) // Below the 0.8 floor, but autonomous only gates DANGEROUS

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
	assert.Empty(t, o.PendingApprovals())
}

func TestSemiAutonomousLowConfidencePlanStillGates(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.75) // Viable, but below the 0.8 approval floor

	req := approveWhenAsked(t, o, true)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSemiAuto, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
	assert.Contains(t, req.Reason, "below floor")
}

func TestRepeatedFailuresEscalateLoop(t *testing.T) {
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		return nil, errors.New("comment API down")
	}))

	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.EscalateAfterFailures = 1
	}, WithExecutors(reg))
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalEscalated, loop.FinalStatus)
	assert.Equal(t, models.LoopEscalated, loop.State)
	assert.GreaterOrEqual(t, loop.ErrorCount, 1)
}

func TestSingleFailureBelowThresholdJustFails(t *testing.T) {
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		return nil, errors.New("comment API down")
	}))

	o := newTestOrchestrator(t, nil, WithExecutors(reg)) // Threshold stays at 3
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalFailed, loop.FinalStatus)
}

func TestThinContextYieldsGatherLoop(t *testing.T) {
	o := newTestOrchestrator(t, nil, WithResolver(jiraResolver(0.3)))

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	require.NotNil(t, loop.Plan)
	require.Len(t, loop.Plan.PrimaryActions, 1)
	assert.Equal(t, models.ActionGatherMoreContext, loop.Plan.PrimaryActions[0].Type)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
}

func TestResolverFailureDegradesToGatherPlan(t *testing.T) {
	o := newTestOrchestrator(t, nil, WithResolver(resolverFunc(
		func(_ context.Context, _ *models.ProcessedEvent) (*models.ResolvedContext, error) {
			return nil, errors.New("tracker unreachable")
		})))

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	require.NotNil(t, loop.Plan)
	require.Len(t, loop.Plan.PrimaryActions, 1)
	assert.Equal(t, models.ActionGatherMoreContext, loop.Plan.PrimaryActions[0].Type)
	assert.Equal(t, 1, loop.ErrorCount)
}

func TestLoopSlotLimitBlocksSubmission(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.MaxConcurrentLoops = 1
	})
	simpleStrategy(o, 0.9)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Holds the only slot while waiting for an approval that never comes
		// inside the short window below.
		o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")
	}()

	require.Eventually(t, func() bool {
		return o.registry.activeCount() == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := o.ExecuteClosedLoop(ctx, testEvent(), models.ModeAutonomous, "tester")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	approveWhenAsked(t, o, true)
	wg.Wait()
}

func TestCompletedLoopHistoryIsBounded(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.MaxCompletedLoops = 2
	})
	simpleStrategy(o, 0.9)

	var first *models.LoopExecution
	for i := 0; i < 3; i++ {
		loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")
		require.NoError(t, err)
		if i == 0 {
			first = loop
		}
	}

	m := o.GetOrchestrationMetrics()
	assert.Equal(t, 2, m.CompletedLoops)
	assert.Equal(t, 0, m.ActiveLoops)
	assert.Equal(t, 1.0, m.SuccessRate)

	_, ok := o.GetLoop(first.LoopID)
	assert.False(t, ok, "oldest loop should have been evicted")
}

func TestApprovalPolicyOrdering(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	base := func() *models.ExecutionPlan {
		return &models.ExecutionPlan{
			ID:                "plan-1",
			OverallConfidence: 0.95,
			OverallSafety:     models.SafetySafe,
		}
	}

	tests := []struct {
		name   string
		mode   models.OrchestrationMode
		mutate func(*models.ExecutionPlan)
		want   bool
		reason string
	}{
		{"supervised always gates", models.ModeSupervised, nil, true, "supervised"},
		{"clean autonomous plan passes", models.ModeAutonomous, nil, false, ""},
		{"plan flag gates", models.ModeAutonomous, func(p *models.ExecutionPlan) {
			p.HumanApprovalNeeded = true
		}, true, "approval-flagged"},
		{"autonomous dangerous gates", models.ModeAutonomous, func(p *models.ExecutionPlan) {
			p.OverallSafety = models.SafetyDangerous
		}, true, "DANGEROUS"},
		{"autonomous high risk passes", models.ModeAutonomous, func(p *models.ExecutionPlan) {
			p.OverallSafety = models.SafetyRisky
		}, false, ""},
		{"autonomous destructive passes", models.ModeAutonomous, func(p *models.ExecutionPlan) {
			p.PrimaryActions = []models.PlannedAction{{Type: models.ActionRestartService}}
		}, false, ""},
		{"semi-autonomous high risk gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.OverallSafety = models.SafetyRisky
		}, true, "HIGH_RISK"},
		{"semi-autonomous dangerous gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.OverallSafety = models.SafetyDangerous
		}, true, "DANGEROUS"},
		{"semi-autonomous low confidence gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.OverallConfidence = 0.7
		}, true, "below floor"},
		{"semi-autonomous destructive action gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.PrimaryActions = []models.PlannedAction{{Type: models.ActionRestartService}}
		}, true, "destructive"},
		{"semi-autonomous external write gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.PrimaryActions = []models.PlannedAction{{Type: models.ActionSendMessage}}
		}, true, "writes externally"},
		{"semi-autonomous external target gates", models.ModeSemiAuto, func(p *models.ExecutionPlan) {
			p.PrimaryActions = []models.PlannedAction{{Type: models.ActionAddComment, Target: "slack:#incidents"}}
		}, true, "writes externally"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := base()
			if tt.mutate != nil {
				tt.mutate(plan)
			}
			need, reason := o.approvalRequired(plan, tt.mode)
			assert.Equal(t, tt.want, need)
			if tt.reason != "" {
				assert.Contains(t, reason, tt.reason)
			}
		})
	}
}

func TestNilEventIsRejected(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.ExecuteClosedLoop(context.Background(), nil, models.ModeAutonomous, "tester")
	assert.Error(t, err)
}

func TestPlannerPanicDoesNotKillLoop(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.Planner().RegisterStrategy(models.ContextJira, func(_ *models.ProcessedEvent, _ *models.ResolvedContext) []models.PlannedAction {
		panic("strategy exploded")
	})

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	// The planner substitutes its wait-for-human fallback and the loop
	// completes on it.
	require.NotNil(t, loop.Plan)
	require.Len(t, loop.Plan.PrimaryActions, 1)
	assert.Equal(t, models.ActionWaitForHuman, loop.Plan.PrimaryActions[0].Type)
	assert.Equal(t, models.FinalSuccess, loop.FinalStatus)
}

func TestEscalateLoopStopsAtPhaseBoundary(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.9)

	// Escalate while the loop is parked at the approval gate, then approve.
	// The escalation wins at the next phase boundary.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pending := o.PendingApprovals(); len(pending) > 0 {
				o.EscalateLoop(pending[0].LoopID, "operator pulled the plug")
				o.Approve(pending[0].ID, true)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalEscalated, loop.FinalStatus)
	assert.Equal(t, models.LoopEscalated, loop.State)
	assert.Contains(t, loop.Error, "operator pulled the plug")
	assert.Empty(t, loop.Results, "nothing executes after the escalation")
}

func TestEscalateLoopUnknownLoop(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	assert.False(t, o.EscalateLoop("no-such-loop", "why not"))
}

type recordingReporter struct {
	mu            sync.Mutex
	plans         []string
	actions       []models.ExecutionResult
	verifications []models.VerificationResult
	alerts        []string
	finished      []string
}

func (r *recordingReporter) PlanCreated(_ context.Context, _ string, plan *models.ExecutionPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan.ID)
	return nil
}

func (r *recordingReporter) ActionExecuted(_ context.Context, _ string, result models.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, result)
	return nil
}

func (r *recordingReporter) VerificationCompleted(_ context.Context, _ string, vr models.VerificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = append(r.verifications, vr)
	return nil
}

func (r *recordingReporter) SafetyAlert(_ context.Context, _ string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, reason)
	return nil
}

func (r *recordingReporter) LoopFinished(_ context.Context, loop *models.LoopExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, loop.LoopID)
	return nil
}

func TestReporterReceivesLifecycleDispatches(t *testing.T) {
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, nil, WithReporter(rep))
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Contains(t, rep.plans, loop.Plan.ID)
	require.Len(t, rep.actions, 1)
	assert.Equal(t, models.StatusCompleted, rep.actions[0].Status)
	require.Len(t, rep.verifications, 1)
	assert.Contains(t, rep.finished, loop.LoopID)
	assert.Empty(t, rep.alerts)
}

func TestPlanCreatedDispatchPrecedesApprovalGate(t *testing.T) {
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.Approval.Timeout = 150 * time.Millisecond
	}, WithReporter(rep))
	simpleStrategy(o, 0.9)

	// The approval times out and nothing executes, but the plan-created
	// dispatch must already have fired while the loop was parked at the gate.
	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeSupervised, "tester")
	require.NoError(t, err)
	assert.Equal(t, models.FinalCancelled, loop.FinalStatus)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Contains(t, rep.plans, loop.Plan.ID)
	assert.Empty(t, rep.actions)
}

func TestEscalationRaisesSafetyAlert(t *testing.T) {
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		return nil, errors.New("comment API down")
	}))

	rep := &recordingReporter{}
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.EscalateAfterFailures = 1
	}, WithExecutors(reg), WithReporter(rep))
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")
	require.NoError(t, err)
	assert.Equal(t, models.FinalEscalated, loop.FinalStatus)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.NotEmpty(t, rep.alerts)
	assert.Contains(t, rep.alerts[0], "escalation threshold")
}

func TestRetryExhaustionAbortsRemainingPrimaries(t *testing.T) {
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		return nil, errors.New("comment API down")
	}))

	o := newTestOrchestrator(t, nil, WithExecutors(reg))
	o.Planner().RegisterStrategy(models.ContextJira, func(_ *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
		mk := func(at models.ActionType) models.PlannedAction {
			return models.PlannedAction{
				ID:                  uuid.NewString(),
				Type:                at,
				Priority:            models.PriorityMedium,
				SafetyLevel:         models.SafetySafe,
				ConfidenceScore:     0.9,
				ContextCompleteness: rc.ContextCompleteness,
				Target:              "PROJ-42",
				MaxRetries:          1,
				Timeout:             time.Second,
				EstimatedDuration:   time.Minute,
			}
		}
		return []models.PlannedAction{mk(models.ActionAddComment), mk(models.ActionUpdateStatus)}
	})

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalFailed, loop.FinalStatus)
	require.Len(t, loop.Results, 2)
	assert.Equal(t, models.StatusFailed, loop.Results[0].Status)
	assert.Equal(t, 1, loop.Results[0].RetryCount, "all retries consumed before the abort")
	assert.Equal(t, models.StatusCancelled, loop.Results[1].Status)
	assert.Contains(t, loop.Results[1].ErrorMessage, "aborted")
}

func TestPerActionProgressCrossesExecutionBand(t *testing.T) {
	loop := &models.LoopExecution{LoopID: "loop-progress", Progress: 0.25}

	var progressAt []float64
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		progressAt = append(progressAt, loop.Progress)
		return map[string]interface{}{"ok": true}, nil
	}))
	o := newTestOrchestrator(t, nil, WithExecutors(reg))

	mk := func() models.PlannedAction {
		return models.PlannedAction{
			ID:                  uuid.NewString(),
			Type:                models.ActionAddComment,
			Priority:            models.PriorityMedium,
			SafetyLevel:         models.SafetySafe,
			ConfidenceScore:     0.9,
			ContextCompleteness: 0.9,
			Target:              "PROJ-42",
			Timeout:             time.Second,
			EstimatedDuration:   time.Minute,
		}
	}
	plan := &models.ExecutionPlan{
		ID:               "plan-progress",
		PrimaryActions:   []models.PlannedAction{mk(), mk()},
		PrerequisitesMet: true,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	rc := &models.ResolvedContext{
		ContextType:         models.ContextJira,
		ContextCompleteness: 0.9,
		ResolvedAt:          time.Now(),
	}

	results, err := o.executePlanActions(context.Background(), loop, plan, rc)

	require.NoError(t, err)
	require.Len(t, results, 2)
	// Each action advances the loop through the execution band instead of
	// one jump at the end.
	require.Len(t, progressAt, 2)
	assert.Equal(t, 0.25, progressAt[0])
	assert.InDelta(t, 0.475, progressAt[1], 1e-9)
	assert.InDelta(t, 0.70, loop.Progress, 1e-9)
}

func TestSlowPlannerTimesOutLoop(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.PlanTimeout = 30 * time.Millisecond
	})
	o.Planner().RegisterStrategy(models.ContextJira, func(_ *models.ProcessedEvent, _ *models.ResolvedContext) []models.PlannedAction {
		time.Sleep(300 * time.Millisecond)
		return nil
	})

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalTimeout, loop.FinalStatus)
	assert.Equal(t, models.LoopTimeout, loop.State)
	assert.Contains(t, loop.Error, "planning exceeded")
}

func TestSlowExecutionTimesOutLoop(t *testing.T) {
	reg := executor.BuiltinRegistry()
	reg.Register(models.ActionAddComment, executor.ExecutorFunc(func(ctx context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.ExecuteTimeout = 50 * time.Millisecond
	}, WithExecutors(reg))
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalTimeout, loop.FinalStatus)
	assert.Equal(t, models.LoopTimeout, loop.State)
	assert.Contains(t, loop.Error, "execution exceeded")
}

func TestSlowVerificationTimesOutLoop(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.VerifyTimeout = 30 * time.Millisecond
	})
	simpleStrategy(o, 0.9)
	o.Verifier().RegisterChecker("SLOW", func(ctx context.Context, _ *models.ExecutionResult) (models.VerificationCheck, error) {
		<-ctx.Done()
		return models.VerificationCheck{}, ctx.Err()
	})
	o.Verifier().RegisterChecks(models.ActionAddComment, "SLOW")

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "tester")

	require.NoError(t, err)
	assert.Equal(t, models.FinalTimeout, loop.FinalStatus)
	assert.Equal(t, models.LoopTimeout, loop.State)
	assert.Contains(t, loop.Error, "verification exceeded")
}

func TestLoopCarriesUserID(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	simpleStrategy(o, 0.9)

	loop, err := o.ExecuteClosedLoop(context.Background(), testEvent(), models.ModeAutonomous, "casey")

	require.NoError(t, err)
	assert.Equal(t, "casey", loop.UserID)
}
