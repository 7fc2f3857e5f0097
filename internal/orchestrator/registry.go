package orchestrator

import (
	"sync"

	"github.com/harrison/autopilot/internal/models"
)

// loopRegistry tracks active and completed loops. Completed history is
// bounded; the oldest entries are evicted first.
type loopRegistry struct {
	mu           sync.Mutex
	active       map[string]*models.LoopExecution
	escalations  map[string]string
	completed    []*models.LoopExecution
	maxCompleted int
}

func newLoopRegistry(maxCompleted int) *loopRegistry {
	return &loopRegistry{
		active:       make(map[string]*models.LoopExecution),
		escalations:  make(map[string]string),
		maxCompleted: maxCompleted,
	}
}

func (r *loopRegistry) add(loop *models.LoopExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[loop.LoopID] = loop
}

// finish moves a loop from the active set into the bounded history.
func (r *loopRegistry) finish(loop *models.LoopExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, loop.LoopID)
	delete(r.escalations, loop.LoopID)
	r.completed = append(r.completed, loop)
	if len(r.completed) > r.maxCompleted {
		r.completed = r.completed[len(r.completed)-r.maxCompleted:]
	}
}

// requestEscalation flags an active loop. Returns false when the loop is not
// active.
func (r *loopRegistry) requestEscalation(loopID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[loopID]; !ok {
		return false
	}
	r.escalations[loopID] = reason
	return true
}

// escalationRequested reports whether someone flagged the loop, and why.
func (r *loopRegistry) escalationRequested(loopID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.escalations[loopID]
	return reason, ok
}

func (r *loopRegistry) get(loopID string) (*models.LoopExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if loop, ok := r.active[loopID]; ok {
		return loop, true
	}
	for _, loop := range r.completed {
		if loop.LoopID == loopID {
			return loop, true
		}
	}
	return nil, false
}

func (r *loopRegistry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *loopRegistry) snapshotCompleted() []*models.LoopExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.LoopExecution, len(r.completed))
	copy(out, r.completed)
	return out
}
