// Package logger provides leveled console logging for autopilot execution.
//
// Output is timestamped and thread-safe. Color is enabled automatically when
// writing to a TTY and disabled otherwise (or via NO_COLOR).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/autopilot/internal/models"
)

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

var levelValues = map[string]int{
	"trace": levelTrace,
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// ConsoleLogger logs pipeline progress to a writer with [HH:MM:SS] prefixes.
type ConsoleLogger struct {
	writer      io.Writer
	level       int
	mutex       sync.Mutex
	colorOutput bool

	stateColor *color.Color
	okColor    *color.Color
	failColor  *color.Color
	warnColor  *color.Color
	labelColor *color.Color
}

// NewConsoleLogger creates a ConsoleLogger writing to w at the given level.
// If w is nil, messages are silently discarded. Empty or invalid levels
// default to "info".
func NewConsoleLogger(w io.Writer, logLevel string) *ConsoleLogger {
	lvl, ok := levelValues[strings.ToLower(strings.TrimSpace(logLevel))]
	if !ok {
		lvl = levelInfo
	}

	return &ConsoleLogger{
		writer:      w,
		level:       lvl,
		colorOutput: isTerminal(w),
		stateColor:  color.New(color.FgCyan),
		okColor:     color.New(color.FgGreen),
		failColor:   color.New(color.FgRed),
		warnColor:   color.New(color.FgYellow),
		labelColor:  color.New(color.FgWhite, color.Bold),
	}
}

// isTerminal reports whether the writer is a TTY that supports colors.
func isTerminal(w io.Writer) bool {
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd()) && !color.NoColor
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd()) && !color.NoColor
	}
	return false
}

func (l *ConsoleLogger) log(level int, format string, args ...interface{}) {
	if l == nil || l.writer == nil || level < l.level {
		return
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.writer, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

// Tracef logs at trace level.
func (l *ConsoleLogger) Tracef(format string, args ...interface{}) {
	l.log(levelTrace, format, args...)
}

// Debugf logs at debug level.
func (l *ConsoleLogger) Debugf(format string, args ...interface{}) {
	l.log(levelDebug, format, args...)
}

// Infof logs at info level.
func (l *ConsoleLogger) Infof(format string, args ...interface{}) {
	l.log(levelInfo, format, args...)
}

// Warnf logs at warn level.
func (l *ConsoleLogger) Warnf(format string, args ...interface{}) {
	l.log(levelWarn, format, args...)
}

// Errorf logs at error level.
func (l *ConsoleLogger) Errorf(format string, args ...interface{}) {
	l.log(levelError, format, args...)
}

func (l *ConsoleLogger) paint(c *color.Color, s string) string {
	if l == nil || !l.colorOutput {
		return s
	}
	return c.Sprint(s)
}

// LogLoopStart announces a new closed loop.
func (l *ConsoleLogger) LogLoopStart(loop *models.LoopExecution) {
	if loop == nil {
		return
	}
	l.Infof("loop %s started (event=%s mode=%s)", loop.LoopID, loop.EventID, loop.Mode)
}

// LogPhase announces a loop state transition.
func (l *ConsoleLogger) LogPhase(loopID string, state models.LoopState, progress float64) {
	l.Infof("loop %s -> %s (%.0f%%)", loopID, l.paint(l.stateColor, string(state)), progress*100)
}

// LogActionStart announces the start of one action.
func (l *ConsoleLogger) LogActionStart(action models.PlannedAction) {
	l.Infof("action %s %s target=%s confidence=%.2f safety=%s",
		action.ID, action.Type, action.Target, action.ConfidenceScore, action.SafetyLevel)
}

// LogActionResult logs the terminal status of one action.
func (l *ConsoleLogger) LogActionResult(result models.ExecutionResult) {
	status := string(result.Status)
	switch result.Status {
	case models.StatusCompleted:
		status = l.paint(l.okColor, status)
	case models.StatusFailed, models.StatusTimeout:
		status = l.paint(l.failColor, status)
	default:
		status = l.paint(l.warnColor, status)
	}
	if result.ErrorMessage != "" {
		l.Infof("action %s %s: %s (retries=%d, %.1fs): %s",
			result.ID, result.Action.Type, status, result.RetryCount, result.Duration.Seconds(), result.ErrorMessage)
		return
	}
	l.Infof("action %s %s: %s (retries=%d, %.1fs)",
		result.ID, result.Action.Type, status, result.RetryCount, result.Duration.Seconds())
}

// LogVerification logs the aggregate verification verdict for one result.
func (l *ConsoleLogger) LogVerification(v models.VerificationResult) {
	verdict := string(v.Verdict)
	switch v.Verdict {
	case models.VerdictPassed:
		verdict = l.paint(l.okColor, verdict)
	case models.VerdictFailed:
		verdict = l.paint(l.failColor, verdict)
	default:
		verdict = l.paint(l.warnColor, verdict)
	}
	l.Infof("verification %s: %s score=%.2f safe=%v review=%v",
		v.ResultID, verdict, v.OverallScore, v.SafeToProceed, v.RequiresHumanReview)
}

// LogLoopSummary logs the terminal state of a loop.
func (l *ConsoleLogger) LogLoopSummary(loop *models.LoopExecution) {
	if loop == nil {
		return
	}
	completed := 0
	for _, r := range loop.Results {
		if r.Status == models.StatusCompleted {
			completed++
		}
	}
	label := l.paint(l.labelColor, "loop "+loop.LoopID)
	status := loop.FinalStatus
	if loop.Succeeded() {
		status = l.paint(l.okColor, status)
	} else {
		status = l.paint(l.failColor, status)
	}
	l.Infof("%s finished: %s (%d/%d actions completed, errors=%d, %.1fs)",
		label, status, completed, len(loop.Results), loop.ErrorCount,
		loop.CompletedAt.Sub(loop.StartedAt).Seconds())
}
