package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/autopilot/internal/models"
)

// Checker runs one kind of check against a finished execution result. The
// returned check carries the outcome; a non-nil error marks the check as
// ERROR without affecting sibling checks.
type Checker func(ctx context.Context, result *models.ExecutionResult) (models.VerificationCheck, error)

// defaultChecks is the fallback check set for action types not in the table.
var defaultChecks = []models.VerificationType{models.VerifySafetyCompliance}

// builtinCheckTable maps each action type to the checks it gets after
// execution. Types not listed fall back to defaultChecks.
func builtinCheckTable() map[models.ActionType][]models.VerificationType {
	return map[models.ActionType][]models.VerificationType{
		models.ActionMergePR: {
			models.VerifyOutputValidation,
			models.VerifyStateConsistency,
			models.VerifySideEffects,
			models.VerifySecurityScan,
			models.VerifySecurityCompliance,
			models.VerifySafetyCompliance,
			models.VerifyRollbackReadiness,
		},
		models.ActionCreatePR: {
			models.VerifyOutputValidation,
			models.VerifySecurityScan,
			models.VerifySecurityCompliance,
			models.VerifySafetyCompliance,
		},
		models.ActionImplementFeature: {
			models.VerifyOutputValidation,
			models.VerifySecurityScan,
			models.VerifyPerformance,
			models.VerifySafetyCompliance,
		},
		models.ActionFixBug: {
			models.VerifyOutputValidation,
			models.VerifySecurityScan,
			models.VerifyPerformance,
			models.VerifySafetyCompliance,
		},
		models.ActionRollbackDeployment: {
			models.VerifyStateConsistency,
			models.VerifyIntegrationHealth,
			models.VerifyDataIntegrity,
			models.VerifySafetyCompliance,
			models.VerifyRollbackReadiness,
		},
		models.ActionRestartService: {
			models.VerifyIntegrationHealth,
			models.VerifyPerformance,
			models.VerifySafetyCompliance,
			models.VerifyRollbackReadiness,
		},
		models.ActionScaleService: {
			models.VerifyIntegrationHealth,
			models.VerifyPerformance,
			models.VerifySafetyCompliance,
			models.VerifyRollbackReadiness,
		},
		models.ActionRunTests: {
			models.VerifyOutputValidation,
		},
		models.ActionUpdateStatus: {
			models.VerifyOutputValidation,
			models.VerifySafetyCompliance,
		},
		models.ActionAddComment: {
			models.VerifyOutputValidation,
			models.VerifySafetyCompliance,
		},
		models.ActionSendMessage: {
			models.VerifyOutputValidation,
			models.VerifySecurityCompliance,
			models.VerifySafetyCompliance,
		},
		models.ActionNotifyTeam: {
			models.VerifyOutputValidation,
			models.VerifySecurityCompliance,
			models.VerifySafetyCompliance,
		},
	}
}

// builtinCheckers returns the stock checkers. Like the builtin executors they
// work off the result structure alone; provider-aware checkers replace them
// via RegisterChecker.
func builtinCheckers() map[models.VerificationType]Checker {
	return map[models.VerificationType]Checker{
		models.VerifyOutputValidation:   checkOutputValidation,
		models.VerifyStateConsistency:   checkStateConsistency,
		models.VerifySideEffects:        checkSideEffects,
		models.VerifySafetyCompliance:   checkSafetyCompliance,
		models.VerifySecurityScan:       checkSecurityScan,
		models.VerifySecurityCompliance: checkSecurityCompliance,
		models.VerifyPerformance:        checkPerformance,
		models.VerifyIntegrationHealth:  checkIntegrationHealth,
		models.VerifyDataIntegrity:      checkDataIntegrity,
		models.VerifyRollbackReadiness:  checkRollbackReadiness,
	}
}

func passed(severity models.Severity) models.VerificationCheck {
	return models.VerificationCheck{Status: models.CheckPassed, Severity: severity, Passed: true}
}

func failed(severity models.Severity, issues ...string) models.VerificationCheck {
	return models.VerificationCheck{Status: models.CheckFailed, Severity: severity, Issues: issues}
}

// checkOutputValidation fails when a successful execution produced no output
// at all.
func checkOutputValidation(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	if len(result.ResultData) == 0 {
		return failed(models.SeverityMedium, "executor returned no output"), nil
	}
	return passed(models.SeverityMedium), nil
}

// checkStateConsistency confirms the result still points at the target the
// action was planned against.
func checkStateConsistency(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	if result.Action.Target == "" {
		return failed(models.SeverityHigh, "result has no target to reconcile against"), nil
	}
	c := passed(models.SeverityHigh)
	c.Details = map[string]interface{}{"target": result.Action.Target}
	return c, nil
}

func checkSideEffects(_ context.Context, _ *models.ExecutionResult) (models.VerificationCheck, error) {
	return passed(models.SeverityMedium), nil
}

// checkSafetyCompliance fails critically when a destructive action ran
// without its approval gate.
func checkSafetyCompliance(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	if result.Action.Type.IsDestructive() && !result.Action.HumanApprovalRequired {
		return failed(models.SeverityCritical,
			fmt.Sprintf("destructive action %s executed without an approval gate", result.Action.Type)), nil
	}
	return passed(models.SeverityCritical), nil
}

// credentialMarkers are substrings that flag possible secrets in output.
var credentialMarkers = []string{"password", "secret", "api_key", "token"}

// checkSecurityScan flags output values that look like leaked credentials.
// These failures are auto-correctable: the corrector redacts the values.
func checkSecurityScan(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	var issues []string
	for key := range result.ResultData {
		lower := strings.ToLower(key)
		for _, marker := range credentialMarkers {
			if strings.Contains(lower, marker) {
				issues = append(issues, fmt.Sprintf("output field %q may contain a credential", key))
				break
			}
		}
	}
	if len(issues) > 0 {
		c := failed(models.SeverityCritical, issues...)
		c.AutoCorrectable = true
		return c, nil
	}
	return passed(models.SeverityCritical), nil
}

// checkSecurityCompliance flags action parameters that carry what looks like
// a raw credential. Unlike the output scan this inspects the inputs the
// planner handed over, and it cannot be auto-corrected after the fact.
func checkSecurityCompliance(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	var issues []string
	for key := range result.Action.Parameters {
		lower := strings.ToLower(key)
		for _, marker := range credentialMarkers {
			if strings.Contains(lower, marker) {
				issues = append(issues, fmt.Sprintf("action parameter %q may contain a credential", key))
				break
			}
		}
	}
	if len(issues) > 0 {
		return failed(models.SeverityCritical, issues...), nil
	}
	return passed(models.SeverityCritical), nil
}

// checkPerformance fails when execution took more than twice its estimate.
func checkPerformance(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	est := result.Action.EstimatedDuration
	if est > 0 && result.Duration > 2*est {
		return failed(models.SeverityMedium,
			fmt.Sprintf("execution took %s, more than twice the %s estimate", result.Duration, est)), nil
	}
	return passed(models.SeverityMedium), nil
}

func checkIntegrationHealth(_ context.Context, _ *models.ExecutionResult) (models.VerificationCheck, error) {
	return passed(models.SeverityHigh), nil
}

func checkDataIntegrity(_ context.Context, _ *models.ExecutionResult) (models.VerificationCheck, error) {
	return passed(models.SeverityHigh), nil
}

// checkRollbackReadiness fails when a destructive action went out without a
// way to undo it.
func checkRollbackReadiness(_ context.Context, result *models.ExecutionResult) (models.VerificationCheck, error) {
	if result.Action.Type.IsDestructive() && result.Action.RollbackPlan == nil {
		return failed(models.SeverityLow,
			fmt.Sprintf("destructive action %s has no rollback plan", result.Action.Type)), nil
	}
	return passed(models.SeverityLow), nil
}
