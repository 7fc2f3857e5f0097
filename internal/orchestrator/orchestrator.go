// Package orchestrator runs the closed loop: resolve context, plan, gate on
// approval, execute, verify, report and learn. One Orchestrator serves many
// concurrent loops, bounded by MaxConcurrentLoops.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/executor"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/planner"
	"github.com/harrison/autopilot/internal/verify"
)

// AuditSink persists finished loops and their action results. The sqlite
// audit store implements it; a nil sink disables auditing.
type AuditSink interface {
	RecordLoop(loop *models.LoopExecution) error
	RecordAction(loopID string, result models.ExecutionResult) error
}

// Orchestrator drives closed loops end to end.
type Orchestrator struct {
	cfg *config.Config
	log *logger.ConsoleLogger

	planner  *planner.AutoPlanner
	executor *executor.Controller
	verifier *verify.Engine

	resolver ContextResolver
	reporter Reporter
	learner  Learner
	audit    AuditSink

	execRegistry *executor.Registry
	approvals    *approvalGate
	registry     *loopRegistry
	loopSem      chan struct{}
	sideWG       sync.WaitGroup
	clock        func() time.Time
}

// Option customizes an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithResolver sets the context resolver.
func WithResolver(r ContextResolver) Option { return func(o *Orchestrator) { o.resolver = r } }

// WithReporter sets the reporter.
func WithReporter(r Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

// WithLearner sets the learner.
func WithLearner(l Learner) Option { return func(o *Orchestrator) { o.learner = l } }

// WithAudit sets the audit sink.
func WithAudit(a AuditSink) Option { return func(o *Orchestrator) { o.audit = a } }

// WithExecutors replaces the builtin executor registry.
func WithExecutors(r *executor.Registry) Option { return func(o *Orchestrator) { o.execRegistry = r } }

// New creates an Orchestrator with the builtin planner, executor registry and
// verification engine. Collaborators default to no-ops.
func New(cfg *config.Config, log *logger.ConsoleLogger, opts ...Option) *Orchestrator {
	registerMetrics()

	o := &Orchestrator{
		cfg:          cfg,
		log:          log,
		resolver:     NoopResolver{},
		reporter:     NoopReporter{},
		learner:      NoopLearner{},
		execRegistry: executor.BuiltinRegistry(),
		approvals:    newApprovalGate(cfg.Approval, log),
		registry:     newLoopRegistry(cfg.MaxCompletedLoops),
		loopSem:      make(chan struct{}, cfg.MaxConcurrentLoops),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.planner = planner.New(cfg, log)
	o.executor = executor.NewController(cfg, log, o.execRegistry, planApproved{})
	o.verifier = verify.New(cfg, log)
	return o
}

// planApproved satisfies the controller's approval gates. The orchestrator
// obtains the human decision at plan level before execution starts, so the
// controller must not block the same plan a second time.
type planApproved struct{}

func (planApproved) ApprovePlan(_ context.Context, _ *models.ExecutionPlan) (bool, error) {
	return true, nil
}

func (planApproved) ApproveAction(_ context.Context, _ models.PlannedAction) (bool, error) {
	return true, nil
}

// Planner exposes the planner for strategy and predicate registration.
func (o *Orchestrator) Planner() *planner.AutoPlanner { return o.planner }

// Executors exposes the executor registry for provider backends.
func (o *Orchestrator) Executors() *executor.Registry { return o.execRegistry }

// Verifier exposes the verification engine for checker registration.
func (o *Orchestrator) Verifier() *verify.Engine { return o.verifier }

// ExecuteClosedLoop runs one closed loop for an event and blocks until the
// loop is finalized. It blocks first on a loop slot when MaxConcurrentLoops
// are already running. userID identifies who triggered the loop and is
// carried through to the audit trail. The returned loop always carries a
// final status.
func (o *Orchestrator) ExecuteClosedLoop(ctx context.Context, event *models.ProcessedEvent, mode models.OrchestrationMode, userID string) (*models.LoopExecution, error) {
	if event == nil || event.ID == "" {
		return nil, errors.New("event with an ID is required")
	}

	select {
	case o.loopSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.loopSem }()

	loop := &models.LoopExecution{
		LoopID:    uuid.NewString(),
		EventID:   event.ID,
		Mode:      mode,
		UserID:    userID,
		State:     models.LoopIdle,
		StartedAt: o.clock(),
	}
	o.registry.add(loop)
	o.log.LogLoopStart(loop)

	defer o.finalize(loop)
	o.runLoop(ctx, loop, event)
	return loop, nil
}

// runLoop advances the loop through its phases. Any panic downgrades to a
// terminal error on the loop instead of taking the orchestrator down.
func (o *Orchestrator) runLoop(ctx context.Context, loop *models.LoopExecution, event *models.ProcessedEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("orchestrator: loop %s panicked: %v", loop.LoopID, r)
			o.fail(loop, models.LoopError, models.FinalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.setState(loop, models.LoopResolving, 0.05)
	rc := o.resolve(ctx, loop, event)
	if o.checkEscalation(loop) {
		return
	}

	o.setState(loop, models.LoopPlanning, 0.15)
	plan, planned := o.planUnderDeadline(event, rc)
	if !planned {
		o.fail(loop, models.LoopTimeout, models.FinalTimeout,
			fmt.Sprintf("planning exceeded the %s budget", o.cfg.PlanTimeout))
		return
	}
	loop.Plan = plan
	o.report(loop.LoopID, "plan created", func(ctx context.Context) error {
		return o.reporter.PlanCreated(ctx, loop.LoopID, plan)
	})

	if need, reason := o.approvalRequired(plan, loop.Mode); need {
		o.setState(loop, models.LoopApproving, 0.2)
		approved, err := o.awaitApproval(ctx, loop, plan, reason)
		if err != nil {
			approvalsTotal.WithLabelValues("timeout").Inc()
			o.fail(loop, models.LoopIdle, models.FinalCancelled, fmt.Sprintf("approval not obtained: %v", err))
			return
		}
		if !approved {
			approvalsTotal.WithLabelValues("denied").Inc()
			o.fail(loop, models.LoopIdle, models.FinalCancelled, "approval denied")
			return
		}
		approvalsTotal.WithLabelValues("approved").Inc()
	}
	if o.checkEscalation(loop) {
		return
	}

	o.setState(loop, models.LoopExecuting, 0.25)
	execCtx, cancelExec := context.WithTimeout(ctx, o.cfg.ExecuteTimeout)
	results, err := o.executePlanActions(execCtx, loop, plan, rc)
	expired := phaseExpired(execCtx, ctx)
	cancelExec()
	loop.Results = results
	if errors.Is(err, executor.ErrPlanDeferred) {
		o.fail(loop, models.LoopIdle, models.FinalCancelled, err.Error())
		return
	}
	if err != nil {
		loop.ErrorCount++
		o.fail(loop, models.LoopError, models.FinalError, err.Error())
		return
	}
	if expired {
		o.fail(loop, models.LoopTimeout, models.FinalTimeout,
			fmt.Sprintf("execution exceeded the %s budget", o.cfg.ExecuteTimeout))
		return
	}

	o.setState(loop, models.LoopVerifying, 0.7)
	verifyCtx, cancelVerify := context.WithTimeout(ctx, o.cfg.VerifyTimeout)
	review := false
	for i := range loop.Results {
		if verifyCtx.Err() != nil {
			break
		}
		vr := o.verifier.VerifyExecution(verifyCtx, &loop.Results[i])
		loop.Verifications = append(loop.Verifications, *vr)
		verificationsTotal.WithLabelValues(string(vr.Verdict)).Inc()
		if vr.RequiresHumanReview {
			review = true
		}
		v := *vr
		o.report(loop.LoopID, "verification", func(ctx context.Context) error {
			return o.reporter.VerificationCompleted(ctx, loop.LoopID, v)
		})
		loop.Progress = 0.7 + 0.1*float64(i+1)/float64(len(loop.Results))
	}
	expired = phaseExpired(verifyCtx, ctx)
	cancelVerify()
	if expired {
		o.fail(loop, models.LoopTimeout, models.FinalTimeout,
			fmt.Sprintf("verification exceeded the %s budget", o.cfg.VerifyTimeout))
		return
	}

	if o.checkEscalation(loop) {
		return
	}
	if loop.ErrorCount >= o.cfg.EscalateAfterFailures {
		msg := fmt.Sprintf("%d failures reached the escalation threshold", loop.ErrorCount)
		o.alert(loop.LoopID, msg)
		o.fail(loop, models.LoopEscalated, models.FinalEscalated, msg)
		return
	}
	if review {
		o.alert(loop.LoopID, "verification requires human review")
		o.fail(loop, models.LoopEscalated, models.FinalEscalated, "verification requires human review")
		return
	}

	o.setState(loop, models.LoopReporting, 0.92)
	if o.cfg.LearningEnabled {
		o.setState(loop, models.LoopLearning, 0.96)
	}

	loop.State = models.LoopIdle
	if loop.Succeeded() {
		loop.FinalStatus = models.FinalSuccess
	} else {
		loop.FinalStatus = models.FinalFailed
	}
}

// resolve runs the context resolver under its own timeout. A resolver
// failure is not fatal: the planner turns a nil context into a
// gather-more-context plan.
func (o *Orchestrator) resolve(ctx context.Context, loop *models.LoopExecution, event *models.ProcessedEvent) *models.ResolvedContext {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.ResolveTimeout)
	defer cancel()

	rc, err := o.resolver.Resolve(rctx, event)
	if err != nil {
		loop.ErrorCount++
		o.log.Warnf("orchestrator: context resolution for loop %s failed: %v", loop.LoopID, err)
		return nil
	}
	return rc
}

// planUnderDeadline runs the planner inside its time budget. The planner is
// pure computation without a context, so an overrun is abandoned rather than
// cancelled.
func (o *Orchestrator) planUnderDeadline(event *models.ProcessedEvent, rc *models.ResolvedContext) (*models.ExecutionPlan, bool) {
	done := make(chan *models.ExecutionPlan, 1)
	go func() { done <- o.planner.CreateExecutionPlan(event, rc) }()

	timer := time.NewTimer(o.cfg.PlanTimeout)
	defer timer.Stop()
	select {
	case plan := <-done:
		return plan, true
	case <-timer.C:
		return nil, false
	}
}

// executePlanActions drives the plan one primary at a time so per-action
// progress is visible on the loop and so an action that exhausts its retries
// aborts everything still queued behind it. Contingencies then run for every
// unsuccessful primary; monitors detach as usual.
func (o *Orchestrator) executePlanActions(ctx context.Context, loop *models.LoopExecution, plan *models.ExecutionPlan, rc *models.ResolvedContext) ([]models.ExecutionResult, error) {
	if settled, err := o.executor.GatePlan(ctx, plan); settled != nil || err != nil {
		for _, r := range settled {
			o.observeResult(loop, r)
		}
		return settled, err
	}

	var results []models.ExecutionResult
	total := len(plan.PrimaryActions)
	for i, a := range plan.PrimaryActions {
		r := o.executor.ExecuteAction(ctx, a, rc)
		results = append(results, r)
		o.observeResult(loop, r)
		loop.Progress = 0.25 + 0.45*float64(i+1)/float64(total)

		if r.Status == models.StatusFailed || r.Status == models.StatusTimeout {
			if rest := plan.PrimaryActions[i+1:]; len(rest) > 0 {
				cancelled := o.executor.CancelAll(rest,
					fmt.Sprintf("aborted: action %s exhausted its retries", a.ID))
				for _, cr := range cancelled {
					o.observeResult(loop, cr)
				}
				results = append(results, cancelled...)
			}
			break
		}
	}

	failed := executor.FailedActionIDs(results)
	if len(failed) > 0 {
		for _, cr := range o.executor.RunContingencies(ctx, plan.ContingencyActions, rc, failed) {
			o.observeResult(loop, cr)
			results = append(results, cr)
		}
	}

	o.executor.StartMonitors(plan.MonitoringActions, rc)
	return results, nil
}

// observeResult folds one execution result into the loop: metrics, error
// accounting and reporter dispatch. A safety block additionally raises an
// alert.
func (o *Orchestrator) observeResult(loop *models.LoopExecution, r models.ExecutionResult) {
	actionsTotal.WithLabelValues(string(r.Action.Type), string(r.Status)).Inc()
	if r.Status == models.StatusFailed || r.Status == models.StatusTimeout {
		loop.ErrorCount++
	}
	o.report(loop.LoopID, "action", func(ctx context.Context) error {
		return o.reporter.ActionExecuted(ctx, loop.LoopID, r)
	})
	if r.Status == models.StatusBlocked {
		o.alert(loop.LoopID, fmt.Sprintf("action %s blocked: %s", r.Action.ID, r.ErrorMessage))
	}
}

// phaseExpired reports whether a phase context ran out of its own budget
// rather than being cancelled through the parent.
func phaseExpired(phase, parent context.Context) bool {
	return errors.Is(phase.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

// externalWriteActions are the action types that publish outside the team's
// own tracker state and can be gated on approval.
var externalWriteActions = map[models.ActionType]bool{
	models.ActionSendMessage: true,
	models.ActionNotifyTeam:  true,
	models.ActionCreatePR:    true,
	models.ActionMergePR:     true,
}

// externalTargetPrefixes mark targets that live in outside systems even when
// the action type itself is neutral.
var externalTargetPrefixes = []string{"slack:", "teams:", "confluence:", "github:", "jira:"}

func writesExternally(a models.PlannedAction) bool {
	if externalWriteActions[a.Type] {
		return true
	}
	for _, prefix := range externalTargetPrefixes {
		if strings.HasPrefix(a.Target, prefix) {
			return true
		}
	}
	return false
}

// approvalRequired applies the approval policy in order: supervised mode
// approves everything, then plan-level flags. Autonomous mode then gates
// only DANGEROUS plans; semi-autonomous mode falls through to the graded
// rules: risk, confidence, then the configurable destructive and
// external-write gates.
func (o *Orchestrator) approvalRequired(plan *models.ExecutionPlan, mode models.OrchestrationMode) (bool, string) {
	if mode == models.ModeSupervised {
		return true, "supervised mode approves every plan"
	}
	if plan.HumanApprovalNeeded {
		return true, "plan contains approval-flagged actions"
	}
	risk := models.RiskFromSafety(plan.OverallSafety)
	if mode == models.ModeAutonomous {
		if risk == models.RiskDangerous {
			return true, "autonomous mode still gates DANGEROUS plans"
		}
		return false, ""
	}
	if risk == models.RiskDangerous || risk == models.RiskHigh {
		return true, fmt.Sprintf("plan risk is %s", risk)
	}
	if plan.OverallConfidence < o.cfg.Approval.ConfidenceFloor {
		return true, fmt.Sprintf("plan confidence %.2f below floor %.2f",
			plan.OverallConfidence, o.cfg.Approval.ConfidenceFloor)
	}
	if o.cfg.Approval.RequireForDestructive {
		for _, a := range plan.PrimaryActions {
			if a.Type.IsDestructive() {
				return true, fmt.Sprintf("plan contains destructive action %s", a.Type)
			}
		}
	}
	if o.cfg.Approval.RequireForExternalWrites {
		for _, a := range plan.PrimaryActions {
			if writesExternally(a) {
				return true, fmt.Sprintf("plan writes externally via %s", a.Type)
			}
		}
	}
	return false, ""
}

func (o *Orchestrator) awaitApproval(ctx context.Context, loop *models.LoopExecution, plan *models.ExecutionPlan, reason string) (bool, error) {
	req := ApprovalRequest{
		ID:        uuid.NewString(),
		LoopID:    loop.LoopID,
		PlanID:    plan.ID,
		EventID:   loop.EventID,
		Risk:      models.RiskFromSafety(plan.OverallSafety),
		Reason:    reason,
		CreatedAt: o.clock(),
	}
	p := o.approvals.submit(req)
	o.log.Infof("orchestrator: loop %s waiting for approval %s (%s)", loop.LoopID, req.ID, reason)
	return o.approvals.await(ctx, p)
}

// checkEscalation honors a manual EscalateLoop request at a phase boundary.
func (o *Orchestrator) checkEscalation(loop *models.LoopExecution) bool {
	reason, ok := o.registry.escalationRequested(loop.LoopID)
	if !ok {
		return false
	}
	o.alert(loop.LoopID, fmt.Sprintf("escalated: %s", reason))
	o.fail(loop, models.LoopEscalated, models.FinalEscalated, fmt.Sprintf("escalated: %s", reason))
	return true
}

// fail puts the loop into a terminal state with a final status.
func (o *Orchestrator) fail(loop *models.LoopExecution, state models.LoopState, status, message string) {
	loop.State = state
	loop.FinalStatus = status
	loop.Error = message
}

func (o *Orchestrator) setState(loop *models.LoopExecution, state models.LoopState, progress float64) {
	loop.State = state
	if progress > loop.Progress {
		loop.Progress = progress
	}
	o.log.LogPhase(loop.LoopID, state, loop.Progress)
}

// finalize stamps the loop, records it everywhere and dispatches the
// detached reporter and learner work. It runs exactly once per loop.
func (o *Orchestrator) finalize(loop *models.LoopExecution) {
	loop.CompletedAt = o.clock()
	if loop.FinalStatus == "" {
		loop.State = models.LoopError
		loop.FinalStatus = models.FinalError
	}
	loop.Progress = 1.0
	o.registry.finish(loop)

	loopsTotal.WithLabelValues(loop.FinalStatus).Inc()
	loopDuration.WithLabelValues(string(loop.Mode)).Observe(loop.CompletedAt.Sub(loop.StartedAt).Seconds())

	if o.audit != nil {
		if err := o.audit.RecordLoop(loop); err != nil {
			o.log.Warnf("orchestrator: audit loop %s: %v", loop.LoopID, err)
		}
		for _, r := range loop.Results {
			if err := o.audit.RecordAction(loop.LoopID, r); err != nil {
				o.log.Warnf("orchestrator: audit action %s: %v", r.ID, err)
			}
		}
	}

	o.log.LogLoopSummary(loop)
	o.dispatch(loop)
}

// dispatchBudget bounds one detached reporter or learner call.
const dispatchBudget = 30 * time.Second

// dispatch hands the finalized loop to the reporter and learner without
// blocking the caller. Shutdown drains these goroutines.
func (o *Orchestrator) dispatch(loop *models.LoopExecution) {
	o.sideWG.Add(1)
	go func() {
		defer o.sideWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
		defer cancel()

		if err := o.reporter.LoopFinished(ctx, loop); err != nil {
			o.log.Warnf("orchestrator: reporter for loop %s: %v", loop.LoopID, err)
		}
		if o.cfg.LearningEnabled {
			if err := o.learner.Learn(ctx, loop); err != nil {
				o.log.Warnf("orchestrator: learner for loop %s: %v", loop.LoopID, err)
			}
		}
	}()
}

// report runs one reporter dispatch detached from the loop. A dispatch
// failure only logs; the loop never blocks on reporting.
func (o *Orchestrator) report(loopID, what string, call func(ctx context.Context) error) {
	o.sideWG.Add(1)
	go func() {
		defer o.sideWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
		defer cancel()
		if err := call(ctx); err != nil {
			o.log.Warnf("orchestrator: reporter %s dispatch for loop %s: %v", what, loopID, err)
		}
	}()
}

// alert raises a safety alert through the reporter.
func (o *Orchestrator) alert(loopID, reason string) {
	o.report(loopID, "safety alert", func(ctx context.Context) error {
		return o.reporter.SafetyAlert(ctx, loopID, reason)
	})
}

// Approve delivers an in-process approval decision.
func (o *Orchestrator) Approve(requestID string, approved bool) bool {
	return o.approvals.decide(requestID, approved)
}

// PendingApprovals lists the in-process approval requests still waiting.
func (o *Orchestrator) PendingApprovals() []ApprovalRequest {
	return o.approvals.pendingRequests()
}

// EscalateLoop hands an active loop off to a human. The loop stops at its
// next phase boundary with an escalated status; work already in flight is
// not interrupted. Returns false when the loop is not active.
func (o *Orchestrator) EscalateLoop(loopID, reason string) bool {
	return o.registry.requestEscalation(loopID, reason)
}

// GetLoop returns a loop by ID from the active set or the bounded history.
func (o *Orchestrator) GetLoop(loopID string) (*models.LoopExecution, bool) {
	return o.registry.get(loopID)
}

// OrchestrationMetrics is a point-in-time snapshot for status displays. The
// prometheus collectors carry the long-lived series.
type OrchestrationMetrics struct {
	ActiveLoops      int
	CompletedLoops   int
	SucceededLoops   int
	EscalatedLoops   int
	PendingApprovals int
	SuccessRate      float64
}

// GetOrchestrationMetrics computes a snapshot from the loop registry.
func (o *Orchestrator) GetOrchestrationMetrics() OrchestrationMetrics {
	completed := o.registry.snapshotCompleted()
	m := OrchestrationMetrics{
		ActiveLoops:      o.registry.activeCount(),
		CompletedLoops:   len(completed),
		PendingApprovals: len(o.approvals.pendingRequests()),
	}
	for _, loop := range completed {
		switch loop.FinalStatus {
		case models.FinalSuccess:
			m.SucceededLoops++
		case models.FinalEscalated:
			m.EscalatedLoops++
		}
	}
	if m.CompletedLoops > 0 {
		m.SuccessRate = float64(m.SucceededLoops) / float64(m.CompletedLoops)
	}
	return m
}

// Shutdown drains detached monitors and collaborator dispatches, bounded by
// ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.executor.Shutdown(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		o.sideWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
