// Package executor drives planned actions against pluggable per-type
// executors with retry, timeout, rollback and bounded parallelism.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrison/autopilot/internal/models"
)

// ActionExecutor performs one kind of action against an external system.
// A nil error with result data means the attempt succeeded; an error means
// the attempt failed and may be retried.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.PlannedAction, rc *models.ResolvedContext) (map[string]interface{}, error)
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, action models.PlannedAction, rc *models.ResolvedContext) (map[string]interface{}, error)

// Execute implements ActionExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, action models.PlannedAction, rc *models.ResolvedContext) (map[string]interface{}, error) {
	return f(ctx, action, rc)
}

// Registry maps action types to their executors. Concrete provider backends
// (Jira, GitHub, Slack) register here; the controller only sees the
// interface.
type Registry struct {
	mu        sync.RWMutex
	executors map[models.ActionType]ActionExecutor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.ActionType]ActionExecutor)}
}

// Register sets the executor for an action type, replacing any previous one.
func (r *Registry) Register(t models.ActionType, e ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Lookup returns the executor for an action type.
func (r *Registry) Lookup(t models.ActionType) (ActionExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

// Covered reports whether every known action type has an executor. Used by
// tests to keep the dispatch table closed: adding an action type without an
// executor is caught at test time, not as a silent runtime no-op.
func (r *Registry) Covered() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []models.ActionType
	for _, t := range models.AllActionTypes {
		if _, ok := r.executors[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// BuiltinRegistry returns a registry with a simulated executor for every
// action type. The simulated executors record what would have been done
// without touching any external system; real provider backends replace them
// via Register.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, t := range models.AllActionTypes {
		t := t
		r.Register(t, ExecutorFunc(func(ctx context.Context, action models.PlannedAction, rc *models.ResolvedContext) (map[string]interface{}, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"simulated": true,
				"action":    string(t),
				"target":    action.Target,
				"summary":   fmt.Sprintf("simulated %s on %s", t, action.Target),
			}, nil
		}))
	}
	return r
}
