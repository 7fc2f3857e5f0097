package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/orchestrator"
)

// seedRequest drops a request file into the approval inbox, standing in for a
// loop waiting in another process.
func seedRequest(t *testing.T, dir, id string) {
	t.Helper()
	inbox := filepath.Join(dir, "approvals")
	require.NoError(t, os.MkdirAll(inbox, 0755))

	req := orchestrator.ApprovalRequest{
		ID:        id,
		LoopID:    "loop-1",
		PlanID:    "plan-1",
		EventID:   "evt-1",
		Risk:      models.RiskHigh,
		Reason:    "supervised mode requires approval",
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, id+".request.json"), data, 0644))
}

func TestApproveCommandListsPending(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, false)
	seedRequest(t, dir, "req-1")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"approve", "--config", cfgPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "req-1")
	assert.Contains(t, out.String(), "loop=loop-1")
}

func TestApproveCommandListEmpty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, false)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"approve", "--config", cfgPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "No pending approval requests.")
}

func TestApproveCommandWritesDecision(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, false)
	seedRequest(t, dir, "req-1")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"approve", "--config", cfgPath, "--by", "harrison", "req-1"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Request req-1 approved.")

	data, err := os.ReadFile(filepath.Join(dir, "approvals", "req-1.decision.json"))
	require.NoError(t, err)
	var decision orchestrator.ApprovalDecision
	require.NoError(t, json.Unmarshal(data, &decision))
	assert.True(t, decision.Approved)
	assert.Equal(t, "harrison", decision.DecidedBy)
}

func TestApproveCommandDeny(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, false)
	seedRequest(t, dir, "req-2")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"approve", "--config", cfgPath, "--deny", "req-2"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Request req-2 denied.")

	data, err := os.ReadFile(filepath.Join(dir, "approvals", "req-2.decision.json"))
	require.NoError(t, err)
	var decision orchestrator.ApprovalDecision
	require.NoError(t, json.Unmarshal(data, &decision))
	assert.False(t, decision.Approved)
}

func TestApproveCommandUnknownRequest(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, false)

	root := NewRootCommand()
	root.SetArgs([]string{"approve", "--config", cfgPath, "nope"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown approval request")
}
