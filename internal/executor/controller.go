package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

// ErrPlanDeferred signals that the plan is outside its execution window and
// was not started. The caller may retry once the window opens.
var ErrPlanDeferred = errors.New("plan deferred: outside execution window")

// rollbackBudget bounds a best-effort rollback after the parent context is
// already cancelled or exhausted.
const rollbackBudget = time.Minute

// maxResultHistory bounds the finished-result ring kept for status queries.
const maxResultHistory = 256

// ApprovalHandler makes the human call on plans and actions flagged for
// approval. Implementations may block until a decision arrives; they should
// honor ctx cancellation.
type ApprovalHandler interface {
	ApprovePlan(ctx context.Context, plan *models.ExecutionPlan) (bool, error)
	ApproveAction(ctx context.Context, action models.PlannedAction) (bool, error)
}

// Controller executes plans action by action: safety gates, approval gates,
// bounded parallelism for independent actions, retries with exponential
// backoff, per-attempt timeouts and best-effort rollback on failure.
type Controller struct {
	cfg      *config.Config
	log      *logger.ConsoleLogger
	registry *Registry
	approver ApprovalHandler

	defaultCheck SafetyCheck
	typeChecks   map[models.ActionType]SafetyCheck
	rollbacks    map[string]RollbackProc

	newBackOff func() backoff.BackOff
	clock      func() time.Time

	mu      sync.Mutex
	active  map[string]*models.ExecutionResult
	history []models.ExecutionResult

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup
}

// NewController creates a Controller backed by the given executor registry.
// approver may be nil, in which case every approval-gated action is denied.
func NewController(cfg *config.Config, log *logger.ConsoleLogger, registry *Registry, approver ApprovalHandler) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:           cfg,
		log:           log,
		registry:      registry,
		approver:      approver,
		defaultCheck:  defaultSafetyCheck(cfg),
		typeChecks:    builtinSafetyChecks(),
		rollbacks:     builtinRollbackProcs(),
		newBackOff:    defaultBackOff,
		clock:         time.Now,
		active:        make(map[string]*models.ExecutionResult),
		monitorCtx:    ctx,
		monitorCancel: cancel,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// RegisterSafetyCheck replaces or adds the pre-execution check for one type.
func (c *Controller) RegisterSafetyCheck(t models.ActionType, check SafetyCheck) {
	c.typeChecks[t] = check
}

// RegisterRollback replaces or adds a rollback procedure by name.
func (c *Controller) RegisterRollback(procedure string, proc RollbackProc) {
	c.rollbacks[procedure] = proc
}

// ExecutePlan runs a plan's primary actions through the gate sequence:
// expiry, plan-level approval, execution window, prerequisites. Denied
// approval cancels every action; an unmet window defers the whole plan with
// ErrPlanDeferred; unmet prerequisites block every action. Independent
// actions run in parallel up to MaxParallelActions, dependent ones run
// sequentially afterwards. Contingency actions run only for unsuccessful
// primaries; monitoring actions are detached and drained by Shutdown.
func (c *Controller) ExecutePlan(ctx context.Context, plan *models.ExecutionPlan, rc *models.ResolvedContext) ([]models.ExecutionResult, error) {
	if settled, err := c.GatePlan(ctx, plan); settled != nil || err != nil {
		return settled, err
	}

	results := c.executePrimaries(ctx, plan.PrimaryActions, rc)

	failed := FailedActionIDs(results)
	if len(failed) > 0 {
		results = append(results, c.RunContingencies(ctx, plan.ContingencyActions, rc, failed)...)
	}

	c.StartMonitors(plan.MonitoringActions, rc)

	return results, nil
}

// GatePlan runs the plan-level gates without executing anything: expiry,
// plan-level approval, execution window, prerequisites. A nil, nil return
// means the plan may execute; a non-nil result slice settles every primary
// action behind the failed gate.
func (c *Controller) GatePlan(ctx context.Context, plan *models.ExecutionPlan) ([]models.ExecutionResult, error) {
	now := c.clock()

	if plan.Expired(now) {
		return c.settleAll(plan.PrimaryActions, models.StatusCancelled, "plan expired before execution"), nil
	}

	if plan.HumanApprovalNeeded {
		approved, err := c.approvePlan(ctx, plan)
		if err != nil {
			return c.settleAll(plan.PrimaryActions, models.StatusCancelled, fmt.Sprintf("plan approval failed: %v", err)), nil
		}
		if !approved {
			return c.settleAll(plan.PrimaryActions, models.StatusCancelled, "plan approval denied"), nil
		}
	}

	if !plan.ExecutionWindow.Contains(now) {
		c.log.Infof("executor: plan %s deferred, outside %s window", plan.ID, plan.ExecutionWindow.Kind)
		return nil, ErrPlanDeferred
	}

	if !plan.PrerequisitesMet {
		return c.settleAll(plan.PrimaryActions, models.StatusBlocked, "plan prerequisites not met"), nil
	}

	return nil, nil
}

// FailedActionIDs collects the IDs of primaries that did not succeed. Any
// unsuccessful terminal status counts, including denial and safety blocks.
func FailedActionIDs(results []models.ExecutionResult) map[string]bool {
	failed := make(map[string]bool)
	for _, r := range results {
		if !r.Success {
			failed[r.Action.ID] = true
		}
	}
	return failed
}

// executePrimaries runs actions without prerequisites in parallel, bounded by
// MaxParallelActions, then the prerequisite-bearing ones sequentially. Result
// order matches the input order.
func (c *Controller) executePrimaries(ctx context.Context, actions []models.PlannedAction, rc *models.ResolvedContext) []models.ExecutionResult {
	results := make([]models.ExecutionResult, len(actions))
	sem := make(chan struct{}, c.cfg.MaxParallelActions)

	var wg sync.WaitGroup
	var dependent []int
	for i, a := range actions {
		if len(a.Prerequisites) > 0 {
			dependent = append(dependent, i)
			continue
		}
		wg.Add(1)
		go func(i int, a models.PlannedAction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.ExecuteAction(ctx, a, rc)
		}(i, a)
	}
	wg.Wait()

	for _, i := range dependent {
		results[i] = c.ExecuteAction(ctx, actions[i], rc)
	}
	return results
}

// RunContingencies runs the contingencies bound to unsuccessful primaries.
// A contingency without a failed_action_id binding runs for any failure.
func (c *Controller) RunContingencies(ctx context.Context, contingencies []models.PlannedAction, rc *models.ResolvedContext, failed map[string]bool) []models.ExecutionResult {
	var results []models.ExecutionResult
	for _, a := range contingencies {
		if id, ok := a.Parameters["failed_action_id"].(string); ok && !failed[id] {
			continue
		}
		results = append(results, c.ExecuteAction(ctx, a, rc))
	}
	return results
}

// StartMonitors launches monitoring actions detached from the plan's context.
// They never contribute to plan results and are drained by Shutdown.
func (c *Controller) StartMonitors(monitors []models.PlannedAction, rc *models.ResolvedContext) {
	for _, a := range monitors {
		c.monitorWG.Add(1)
		go func(a models.PlannedAction) {
			defer c.monitorWG.Done()
			c.ExecuteAction(c.monitorCtx, a, rc)
		}(a)
	}
}

// ExecuteAction runs one action end to end: safety check, approval gate,
// up to MaxRetries+1 attempts each bounded by the action timeout, exponential
// backoff between attempts and best-effort rollback when all attempts fail.
func (c *Controller) ExecuteAction(ctx context.Context, action models.PlannedAction, rc *models.ResolvedContext) (result models.ExecutionResult) {
	result = models.ExecutionResult{
		ID:        uuid.NewString(),
		Action:    action,
		Status:    models.StatusPending,
		StartedAt: c.clock(),
	}
	c.trackActive(&result)
	defer c.finalize(&result)

	c.log.LogActionStart(action)

	if err := c.safetyCheck(action, rc); err != nil {
		result.Status = models.StatusBlocked
		result.ErrorMessage = fmt.Sprintf("safety check failed: %v", err)
		return result
	}

	if action.HumanApprovalRequired {
		result.Status = models.StatusWaitingApproval
		approved, err := c.approveAction(ctx, action)
		if err != nil {
			result.Status = models.StatusCancelled
			result.ErrorMessage = fmt.Sprintf("approval failed: %v", err)
			return result
		}
		if !approved {
			result.Status = models.StatusCancelled
			result.ErrorMessage = "approval denied"
			return result
		}
	}

	exec, ok := c.registry.Lookup(action.Type)
	if !ok {
		result.Status = models.StatusFailed
		result.ErrorMessage = fmt.Sprintf("no executor registered for %s", action.Type)
		c.maybeRollback(&result)
		return result
	}

	maxRetries := action.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultActionTimeout
	}

	bo := c.newBackOff()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			result.Status = models.StatusRetrying
			result.RetryCount = attempt
			c.log.Debugf("executor: action %s attempt %d/%d after %q", action.ID, attempt+1, maxRetries+1, result.ErrorMessage)
			if !c.pause(ctx, bo.NextBackOff()) {
				result.Status = models.StatusCancelled
				result.ErrorMessage = ctx.Err().Error()
				c.maybeRollback(&result)
				return result
			}
		}

		result.Status = models.StatusRunning
		data, err := runAttempt(ctx, exec, action, rc, timeout)
		if err == nil {
			result.Status = models.StatusCompleted
			result.Success = true
			result.ResultData = data
			result.ErrorMessage = ""
			return result
		}

		result.ErrorMessage = err.Error()
		switch {
		case ctx.Err() != nil:
			result.Status = models.StatusCancelled
			c.maybeRollback(&result)
			return result
		case errors.Is(err, context.DeadlineExceeded):
			result.Status = models.StatusTimeout
		default:
			result.Status = models.StatusFailed
		}
	}

	c.maybeRollback(&result)
	return result
}

// runAttempt runs one executor attempt under its own deadline. The executor
// runs in a goroutine so a deadline or a panic inside it cannot hang or kill
// the controller.
func runAttempt(ctx context.Context, exec ActionExecutor, action models.PlannedAction, rc *models.ResolvedContext, timeout time.Duration) (map[string]interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptOutcome struct {
		data map[string]interface{}
		err  error
	}
	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		data, err := exec.Execute(attemptCtx, action, rc)
		done <- attemptOutcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

// safetyCheck runs the default check, then the type-specific one if any.
func (c *Controller) safetyCheck(action models.PlannedAction, rc *models.ResolvedContext) error {
	if err := c.defaultCheck(action, rc); err != nil {
		return err
	}
	if check, ok := c.typeChecks[action.Type]; ok {
		return check(action, rc)
	}
	return nil
}

// maybeRollback runs the action's rollback procedure after a failed
// execution. Rollback is best effort: it gets its own budget even when the
// parent context is gone, and a rollback failure only logs.
func (c *Controller) maybeRollback(result *models.ExecutionResult) {
	plan := result.Action.RollbackPlan
	if plan == nil {
		return
	}
	proc, ok := c.rollbacks[plan.Procedure]
	if !ok {
		c.log.Warnf("executor: no rollback procedure %q for action %s", plan.Procedure, result.Action.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rollbackBudget)
	defer cancel()

	if err := proc(ctx, plan, result); err != nil {
		c.log.Warnf("executor: rollback %q for action %s failed: %v", plan.Procedure, result.Action.ID, err)
		return
	}
	result.RollbackPerformed = true
	c.log.Infof("executor: rolled back action %s via %q", result.Action.ID, plan.Procedure)
}

// pause sleeps for d or until ctx is cancelled. Returns false on cancel.
func (c *Controller) pause(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop || d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) approvePlan(ctx context.Context, plan *models.ExecutionPlan) (bool, error) {
	if c.approver == nil {
		return false, errors.New("no approval handler configured")
	}
	return c.approver.ApprovePlan(ctx, plan)
}

func (c *Controller) approveAction(ctx context.Context, action models.PlannedAction) (bool, error) {
	if c.approver == nil {
		return false, errors.New("no approval handler configured")
	}
	return c.approver.ApproveAction(ctx, action)
}

// CancelAll settles every action as CANCELLED without executing it. Used
// when an earlier primary in the same plan exhausts its retries.
func (c *Controller) CancelAll(actions []models.PlannedAction, message string) []models.ExecutionResult {
	return c.settleAll(actions, models.StatusCancelled, message)
}

// settleAll produces one terminal result per action without executing any of
// them. Used by the plan-level gates.
func (c *Controller) settleAll(actions []models.PlannedAction, status models.ExecutionStatus, message string) []models.ExecutionResult {
	now := c.clock()
	results := make([]models.ExecutionResult, 0, len(actions))
	for _, a := range actions {
		r := models.ExecutionResult{
			ID:           uuid.NewString(),
			Action:       a,
			Status:       status,
			ErrorMessage: message,
			StartedAt:    now,
			CompletedAt:  now,
		}
		c.record(r)
		c.log.LogActionResult(r)
		results = append(results, r)
	}
	return results
}

func (c *Controller) trackActive(result *models.ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[result.ID] = result
}

// finalize stamps the result, moves it from the active set to history and
// logs it. History is bounded; oldest entries fall off first.
func (c *Controller) finalize(result *models.ExecutionResult) {
	result.CompletedAt = c.clock()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	c.mu.Lock()
	delete(c.active, result.ID)
	c.mu.Unlock()

	c.record(*result)
	c.log.LogActionResult(*result)
}

func (c *Controller) record(result models.ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, result)
	if len(c.history) > maxResultHistory {
		c.history = c.history[len(c.history)-maxResultHistory:]
	}
}

// Active returns a snapshot of currently executing results.
func (c *Controller) Active() []models.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ExecutionResult, 0, len(c.active))
	for _, r := range c.active {
		out = append(out, *r)
	}
	return out
}

// History returns a snapshot of finished results, oldest first.
func (c *Controller) History() []models.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ExecutionResult, len(c.history))
	copy(out, c.history)
	return out
}

// Shutdown cancels detached monitors and waits for them to drain, bounded by
// ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.monitorCancel()
	done := make(chan struct{})
	go func() {
		c.monitorWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
