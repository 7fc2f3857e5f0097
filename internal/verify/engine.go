// Package verify runs automated post-execution checks against execution
// results and aggregates them into a safe-to-proceed verdict.
package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

// Aggregation thresholds. safeScoreFloor gates safe_to_proceed, reviewScoreFloor
// and reviewFailureLimit gate human review.
const (
	safeScoreFloor     = 0.8
	reviewScoreFloor   = 0.5
	reviewFailureLimit = 3
)

// Engine verifies execution results. Checks run concurrently, bounded by
// MaxParallelChecks, each under its own CheckTimeout. A checker that errors
// or panics produces an ERROR check and never disturbs its siblings.
type Engine struct {
	cfg        *config.Config
	log        *logger.ConsoleLogger
	checkers   map[models.VerificationType]Checker
	correctors map[models.VerificationType]Corrector
	checkTable map[models.ActionType][]models.VerificationType
	clock      func() time.Time
}

// New creates an Engine with the builtin checkers, correctors and
// action-to-check table registered.
func New(cfg *config.Config, log *logger.ConsoleLogger) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        log,
		checkers:   builtinCheckers(),
		correctors: builtinCorrectors(),
		checkTable: builtinCheckTable(),
		clock:      time.Now,
	}
}

// RegisterChecker replaces or adds the checker for one verification type.
func (e *Engine) RegisterChecker(t models.VerificationType, c Checker) {
	e.checkers[t] = c
}

// RegisterCorrector replaces or adds the corrector for one verification type.
func (e *Engine) RegisterCorrector(t models.VerificationType, c Corrector) {
	e.correctors[t] = c
}

// RegisterChecks replaces the check set for one action type.
func (e *Engine) RegisterChecks(t models.ActionType, checks ...models.VerificationType) {
	e.checkTable[t] = checks
}

// ChecksFor returns the check types that apply to an action type.
func (e *Engine) ChecksFor(t models.ActionType) []models.VerificationType {
	if checks, ok := e.checkTable[t]; ok {
		return checks
	}
	return defaultChecks
}

// VerifyExecution runs every applicable check against one execution result
// and aggregates them. Unsuccessful executions are not check-verified (the
// failure already carries its own handling) except for rollbacks, whose
// cleanup must be verified even when the original action failed.
func (e *Engine) VerifyExecution(ctx context.Context, result *models.ExecutionResult) *models.VerificationResult {
	vr := &models.VerificationResult{
		ResultID:   result.ID,
		ActionType: result.Action.Type,
		VerifiedAt: e.clock(),
	}

	if !result.Success && result.Action.Type != models.ActionRollbackDeployment {
		vr.Verdict = models.VerdictFailed
		vr.SafeToProceed = false
		vr.RequiresHumanReview = false
		e.log.Debugf("verify: result %s not successful, skipping checks", result.ID)
		return vr
	}

	vr.Checks = e.runChecks(ctx, result)
	e.aggregate(vr)
	e.autoCorrect(ctx, vr, result)

	e.log.LogVerification(*vr)
	return vr
}

// runChecks executes the applicable checks concurrently, bounded by
// MaxParallelChecks. Check order in the output matches the table order.
func (e *Engine) runChecks(ctx context.Context, result *models.ExecutionResult) []models.VerificationCheck {
	types := e.ChecksFor(result.Action.Type)
	checks := make([]models.VerificationCheck, len(types))

	sem := make(chan struct{}, e.cfg.MaxParallelChecks)
	var wg sync.WaitGroup
	for i, t := range types {
		wg.Add(1)
		go func(i int, t models.VerificationType) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			checks[i] = e.runCheck(ctx, t, result)
		}(i, t)
	}
	wg.Wait()
	return checks
}

// runCheck executes one check under its own timeout. Checker errors, panics
// and missing checkers all degrade to an ERROR check.
func (e *Engine) runCheck(ctx context.Context, t models.VerificationType, result *models.ExecutionResult) (check models.VerificationCheck) {
	start := e.clock()
	defer func() {
		if r := recover(); r != nil {
			check = errorCheck(t, fmt.Sprintf("checker panic: %v", r))
		}
		check.Type = t
		check.Duration = e.clock().Sub(start)
	}()

	checker, ok := e.checkers[t]
	if !ok {
		return errorCheck(t, fmt.Sprintf("no checker registered for %s", t))
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	defer cancel()

	check, err := checker(checkCtx, result)
	if err != nil {
		return errorCheck(t, fmt.Sprintf("check error: %v", err))
	}
	return check
}

func errorCheck(t models.VerificationType, issue string) models.VerificationCheck {
	return models.VerificationCheck{
		Type:     t,
		Status:   models.CheckError,
		Severity: models.SeverityHigh,
		Issues:   []string{issue},
	}
}

// aggregate derives the verdict fields from the individual checks.
func (e *Engine) aggregate(vr *models.VerificationResult) {
	total := len(vr.Checks)
	passedCount := 0
	securityFailed := false
	for _, c := range vr.Checks {
		if c.Passed {
			passedCount++
			continue
		}
		if c.Severity == models.SeverityCritical {
			vr.CriticalIssues = append(vr.CriticalIssues, c.Issues...)
		}
		if c.AutoCorrectable {
			vr.CorrectableIssues = append(vr.CorrectableIssues, c.Issues...)
		}
		if c.Type.SecuritySensitive() {
			securityFailed = true
		}
	}

	vr.OverallScore = 1
	if total > 0 {
		vr.OverallScore = float64(passedCount) / float64(total)
	}

	hasCritical := len(vr.CriticalIssues) > 0
	vr.SafeToProceed = !hasCritical && vr.OverallScore >= safeScoreFloor && !securityFailed
	vr.RequiresHumanReview = hasCritical ||
		vr.OverallScore < reviewScoreFloor ||
		securityFailed ||
		vr.FailedChecks() > reviewFailureLimit

	switch {
	case hasCritical || securityFailed || vr.OverallScore < reviewScoreFloor:
		vr.Verdict = models.VerdictFailed
	case passedCount == total:
		vr.Verdict = models.VerdictPassed
	default:
		vr.Verdict = models.VerdictWarning
	}
	vr.VerificationPassed = vr.Verdict == models.VerdictPassed
}

// autoCorrect runs the corrector for every failed auto-correctable check.
// Corrections are recorded on the verdict but checks are not re-run; the
// already-computed verdict stands.
func (e *Engine) autoCorrect(ctx context.Context, vr *models.VerificationResult, result *models.ExecutionResult) {
	allOK := true
	attempted := false
	for _, c := range vr.Checks {
		if c.Passed || !c.AutoCorrectable {
			continue
		}
		corrector, ok := e.correctors[c.Type]
		if !ok {
			continue
		}
		attempted = true
		if err := corrector(ctx, c, result); err != nil {
			allOK = false
			e.log.Warnf("verify: correction for %s on result %s failed: %v", c.Type, result.ID, err)
		} else {
			e.log.Infof("verify: corrected %s issues on result %s", c.Type, result.ID)
		}
	}
	vr.CorrectionAttempted = attempted
	vr.CorrectionSuccessful = attempted && allOK
}
