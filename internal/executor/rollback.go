package executor

import (
	"context"
	"fmt"

	"github.com/harrison/autopilot/internal/models"
)

// RollbackProc undoes the side effects of one failed action. Procedures are
// keyed by RollbackPlan.Procedure, not by action type: the planner decides
// how an action should be undone, the controller only dispatches.
type RollbackProc func(ctx context.Context, plan *models.RollbackPlan, result *models.ExecutionResult) error

// builtinRollbackProcs returns the simulated rollback procedures. Like the
// builtin executors, they record what would have been undone without touching
// any external system; provider backends replace them via RegisterRollback.
func builtinRollbackProcs() map[string]RollbackProc {
	simulated := func(name string) RollbackProc {
		return func(ctx context.Context, plan *models.RollbackPlan, result *models.ExecutionResult) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if result.ResultData == nil {
				result.ResultData = make(map[string]interface{})
			}
			result.ResultData["rollback"] = fmt.Sprintf("simulated %s on %s", name, plan.Target)
			return nil
		}
	}
	return map[string]RollbackProc{
		"revert_merge":     simulated("revert_merge"),
		"redeploy_current": simulated("redeploy_current"),
	}
}
