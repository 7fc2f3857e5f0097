package executor

import (
	"fmt"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/models"
)

// SafetyCheck inspects an action immediately before execution. A non-nil
// error blocks the action with no retries.
type SafetyCheck func(action models.PlannedAction, rc *models.ResolvedContext) error

// executionConfidenceFloor is the hard minimum confidence for executing
// anything, independent of the planner's viability threshold. The planner
// should never emit actions below it, but the controller does not trust
// callers to have gone through the planner.
const executionConfidenceFloor = 0.5

// defaultSafetyCheck applies to every action before any type-specific check.
func defaultSafetyCheck(cfg *config.Config) SafetyCheck {
	return func(action models.PlannedAction, _ *models.ResolvedContext) error {
		if action.ConfidenceScore < executionConfidenceFloor {
			return fmt.Errorf("confidence %.2f below execution floor %.2f", action.ConfidenceScore, executionConfidenceFloor)
		}
		if action.SafetyLevel == models.SafetyDangerous && !cfg.AllowDangerous {
			return fmt.Errorf("dangerous actions are disabled (allow_dangerous=false)")
		}
		return nil
	}
}

// builtinSafetyChecks returns the per-type checks applied on top of the
// default check. Destructive types demand a concrete target, and the
// irreversible ones additionally demand a rollback plan.
func builtinSafetyChecks() map[models.ActionType]SafetyCheck {
	requireTarget := func(action models.PlannedAction, _ *models.ResolvedContext) error {
		if action.Target == "" {
			return fmt.Errorf("%s requires a target", action.Type)
		}
		return nil
	}
	requireRollback := func(action models.PlannedAction, rc *models.ResolvedContext) error {
		if err := requireTarget(action, rc); err != nil {
			return err
		}
		if action.RollbackPlan == nil {
			return fmt.Errorf("%s requires a rollback plan", action.Type)
		}
		return nil
	}

	return map[models.ActionType]SafetyCheck{
		models.ActionMergePR:            requireRollback,
		models.ActionRollbackDeployment: requireTarget,
		models.ActionRestartService:     requireTarget,
		models.ActionScaleService:       requireTarget,
	}
}
