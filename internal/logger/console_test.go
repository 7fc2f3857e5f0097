package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/harrison/autopilot/internal/models"
)

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.Debugf("hidden debug")
	log.Infof("hidden info")
	log.Warnf("visible warning")
	log.Errorf("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn leaked through: %q", out)
	}
	if !strings.Contains(out, "visible warning") || !strings.Contains(out, "visible error") {
		t.Errorf("warn/error messages missing: %q", out)
	}
}

func TestConsoleLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "shouty")

	log.Debugf("debug line")
	log.Infof("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Error("debug should be filtered at the default level")
	}
	if !strings.Contains(out, "info line") {
		t.Error("info should pass at the default level")
	}
}

func TestConsoleLoggerNilWriter(t *testing.T) {
	log := NewConsoleLogger(nil, "info")
	// Must not panic.
	log.Infof("goes nowhere")
	log.LogPhase("loop-1", models.LoopExecuting, 0.5)
}

func TestConsoleLoggerTimestampPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")
	log.Infof("hello")

	line := buf.String()
	if !strings.HasPrefix(line, "[") || !strings.Contains(line, "] hello") {
		t.Errorf("expected [HH:MM:SS] prefix, got %q", line)
	}
}

func TestLogActionResultIncludesError(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	log.LogActionResult(models.ExecutionResult{
		ID:           "r-1",
		Action:       models.PlannedAction{Type: models.ActionAddComment},
		Status:       models.StatusFailed,
		ErrorMessage: "jira unavailable",
		RetryCount:   2,
		Duration:     3 * time.Second,
	})

	out := buf.String()
	if !strings.Contains(out, "FAILED") || !strings.Contains(out, "jira unavailable") {
		t.Errorf("failure log incomplete: %q", out)
	}
}

func TestLogLoopSummaryCounts(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	now := time.Now()
	log.LogLoopSummary(&models.LoopExecution{
		LoopID:      "loop-9",
		FinalStatus: models.FinalFailed,
		Results: []models.ExecutionResult{
			{Status: models.StatusCompleted},
			{Status: models.StatusFailed},
		},
		ErrorCount:  1,
		StartedAt:   now.Add(-2 * time.Second),
		CompletedAt: now,
	})

	out := buf.String()
	if !strings.Contains(out, "1/2 actions completed") {
		t.Errorf("summary counts missing: %q", out)
	}
}
