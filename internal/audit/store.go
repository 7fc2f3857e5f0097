// Package audit persists finished loops and action results to a local
// sqlite database so autonomous activity can be reconstructed after the
// fact. The store is safe for concurrent use from multiple loops.
package audit

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/autopilot/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store is the sqlite-backed audit trail. It implements the orchestrator's
// AuditSink.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the audit database at dbPath.
// Pass ":memory:" for an ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	// busy_timeout goes first so the remaining pragmas themselves wait for
	// the lock instead of failing under concurrent open.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// execWithRetry retries transient lock errors, which WAL mode can still
// surface under write contention.
func (s *Store) execWithRetry(query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		_, err = s.db.Exec(query, args...)
		if err == nil {
			return nil
		}
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "database is busy") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// RecordLoop persists one finalized loop. Re-recording the same loop ID
// replaces the row.
func (s *Store) RecordLoop(loop *models.LoopExecution) error {
	return s.execWithRetry(`
		INSERT OR REPLACE INTO loops
			(loop_id, event_id, mode, user_id, final_status, state, error, error_count, action_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loop.LoopID, loop.EventID, string(loop.Mode), loop.UserID, loop.FinalStatus, string(loop.State),
		loop.Error, loop.ErrorCount, len(loop.Results), loop.StartedAt, loop.CompletedAt)
}

// RecordAction persists one action result under its loop.
func (s *Store) RecordAction(loopID string, r models.ExecutionResult) error {
	return s.execWithRetry(`
		INSERT OR REPLACE INTO actions
			(result_id, loop_id, action_id, action_type, target, status, success, error_message,
			 retry_count, rollback_performed, duration_seconds, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, loopID, r.Action.ID, string(r.Action.Type), r.Action.Target, string(r.Status),
		r.Success, r.ErrorMessage, r.RetryCount, r.RollbackPerformed, r.DurationSeconds(),
		r.StartedAt, r.CompletedAt)
}

// LoopRecord is one row of the loops table.
type LoopRecord struct {
	LoopID      string
	EventID     string
	Mode        string
	UserID      string
	FinalStatus string
	State       string
	Error       string
	ErrorCount  int
	ActionCount int
	StartedAt   time.Time
	CompletedAt time.Time
}

// RecentLoops returns up to limit finished loops, newest first.
func (s *Store) RecentLoops(limit int) ([]LoopRecord, error) {
	rows, err := s.db.Query(`
		SELECT loop_id, event_id, mode, user_id, final_status, state, error, error_count, action_count, started_at, completed_at
		FROM loops ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loops []LoopRecord
	for rows.Next() {
		var lr LoopRecord
		if err := rows.Scan(&lr.LoopID, &lr.EventID, &lr.Mode, &lr.UserID, &lr.FinalStatus, &lr.State,
			&lr.Error, &lr.ErrorCount, &lr.ActionCount, &lr.StartedAt, &lr.CompletedAt); err != nil {
			return nil, err
		}
		loops = append(loops, lr)
	}
	return loops, rows.Err()
}

// ActionRecord is one row of the actions table.
type ActionRecord struct {
	ResultID          string
	LoopID            string
	ActionID          string
	ActionType        string
	Target            string
	Status            string
	Success           bool
	ErrorMessage      string
	RetryCount        int
	RollbackPerformed bool
	DurationSeconds   float64
	StartedAt         time.Time
	CompletedAt       time.Time
}

// LoopActions returns the action results recorded under one loop, oldest
// first.
func (s *Store) LoopActions(loopID string) ([]ActionRecord, error) {
	rows, err := s.db.Query(`
		SELECT result_id, loop_id, action_id, action_type, target, status, success, error_message,
		       retry_count, rollback_performed, duration_seconds, started_at, completed_at
		FROM actions WHERE loop_id = ? ORDER BY completed_at ASC`, loopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []ActionRecord
	for rows.Next() {
		var ar ActionRecord
		if err := rows.Scan(&ar.ResultID, &ar.LoopID, &ar.ActionID, &ar.ActionType, &ar.Target,
			&ar.Status, &ar.Success, &ar.ErrorMessage, &ar.RetryCount, &ar.RollbackPerformed,
			&ar.DurationSeconds, &ar.StartedAt, &ar.CompletedAt); err != nil {
			return nil, err
		}
		actions = append(actions, ar)
	}
	return actions, rows.Err()
}

// TypeStats aggregates outcomes for one action type.
type TypeStats struct {
	Total     int
	Succeeded int
}

// SuccessRate returns the fraction of successful executions, or 0 with no
// data.
func (t TypeStats) SuccessRate() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Succeeded) / float64(t.Total)
}

// ActionTypeStats aggregates historical outcomes per action type. Planning
// heuristics can use this as the historical success signal.
func (s *Store) ActionTypeStats() (map[string]TypeStats, error) {
	rows, err := s.db.Query(`
		SELECT action_type, COUNT(*), SUM(success)
		FROM actions GROUP BY action_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]TypeStats)
	for rows.Next() {
		var actionType string
		var ts TypeStats
		if err := rows.Scan(&actionType, &ts.Total, &ts.Succeeded); err != nil {
			return nil, err
		}
		stats[actionType] = ts
	}
	return stats, rows.Err()
}
