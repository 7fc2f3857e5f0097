package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/models"
)

func TestBuiltinRegistryCoversEveryActionType(t *testing.T) {
	assert.Empty(t, BuiltinRegistry().Covered(), "every action type needs an executor")
}

func TestBuiltinExecutorReportsSimulation(t *testing.T) {
	reg := BuiltinRegistry()
	exec, ok := reg.Lookup(models.ActionNotifyTeam)
	require.True(t, ok)

	action := models.PlannedAction{Type: models.ActionNotifyTeam, Target: "eng-oncall"}
	data, err := exec.Execute(context.Background(), action, nil)

	require.NoError(t, err)
	assert.Equal(t, true, data["simulated"])
	assert.Equal(t, "NOTIFY_TEAM", data["action"])
	assert.Equal(t, "eng-oncall", data["target"])
}

func TestRegisterReplacesExecutor(t *testing.T) {
	reg := BuiltinRegistry()
	reg.Register(models.ActionAddComment, ExecutorFunc(func(_ context.Context, _ models.PlannedAction, _ *models.ResolvedContext) (map[string]interface{}, error) {
		return map[string]interface{}{"custom": true}, nil
	}))

	exec, ok := reg.Lookup(models.ActionAddComment)
	require.True(t, ok)
	data, err := exec.Execute(context.Background(), models.PlannedAction{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, data["custom"])
}
