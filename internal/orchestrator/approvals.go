package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/filelock"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
)

// ErrApprovalTimeout means no human decision arrived within the configured
// approval window. The loop treats it as a denial.
var ErrApprovalTimeout = errors.New("approval timed out")

// ApprovalRequest is one pending human decision, visible both in-process and
// as a JSON file in the approval inbox.
type ApprovalRequest struct {
	ID        string           `json:"id"`
	LoopID    string           `json:"loop_id"`
	PlanID    string           `json:"plan_id"`
	EventID   string           `json:"event_id"`
	Risk      models.RiskLevel `json:"risk"`
	Reason    string           `json:"reason"`
	CreatedAt time.Time        `json:"created_at"`
}

// ApprovalDecision is the inbox payload written by `autopilot approve`.
type ApprovalDecision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

type pendingApproval struct {
	req ApprovalRequest
	ch  chan bool
}

// approvalGate tracks pending approval requests and collects decisions from
// two paths: an in-process channel (Approve on the orchestrator) and a
// flock-guarded file inbox polled on an interval, so decisions can come from
// a separate process.
type approvalGate struct {
	cfg config.ApprovalConfig
	log *logger.ConsoleLogger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

func newApprovalGate(cfg config.ApprovalConfig, log *logger.ConsoleLogger) *approvalGate {
	return &approvalGate{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]*pendingApproval),
	}
}

// submit registers a request and mirrors it into the inbox directory so
// other processes can see and decide it.
func (g *approvalGate) submit(req ApprovalRequest) *pendingApproval {
	p := &pendingApproval{req: req, ch: make(chan bool, 1)}
	g.mu.Lock()
	g.pending[req.ID] = p
	g.mu.Unlock()

	if g.cfg.InboxDir != "" {
		data, err := json.MarshalIndent(req, "", "  ")
		if err == nil {
			err = filelock.AtomicWrite(requestPath(g.cfg.InboxDir, req.ID), data)
		}
		if err != nil {
			g.log.Warnf("approvals: failed to publish request %s: %v", req.ID, err)
		}
	}
	return p
}

// decide delivers an in-process decision. Returns false when the request is
// unknown or already decided.
func (g *approvalGate) decide(requestID string, approved bool) bool {
	g.mu.Lock()
	p, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.ch <- approved:
		return true
	default:
		return false
	}
}

// await blocks until a decision arrives on either path, the approval window
// expires, or ctx is cancelled. Timeout and cancellation read as denial.
func (g *approvalGate) await(ctx context.Context, p *pendingApproval) (bool, error) {
	defer g.remove(p.req.ID)

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case approved := <-p.ch:
			return approved, nil
		case <-ticker.C:
			if approved, ok := g.pollInbox(p.req.ID); ok {
				return approved, nil
			}
		case <-timer.C:
			return false, ErrApprovalTimeout
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// pollInbox looks for a decision file for the request. Reads take the inbox
// lock so a decision being written by another process is never seen
// half-formed alongside its removal.
func (g *approvalGate) pollInbox(requestID string) (bool, bool) {
	if g.cfg.InboxDir == "" {
		return false, false
	}

	lock := filelock.NewFileLock(inboxLockPath(g.cfg.InboxDir))
	if err := lock.Lock(); err != nil {
		g.log.Warnf("approvals: inbox lock: %v", err)
		return false, false
	}
	defer lock.Unlock()

	data, err := os.ReadFile(decisionPath(g.cfg.InboxDir, requestID))
	if os.IsNotExist(err) {
		return false, false
	}
	if err != nil {
		g.log.Warnf("approvals: read decision for %s: %v", requestID, err)
		return false, false
	}

	var decision ApprovalDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		g.log.Warnf("approvals: malformed decision for %s: %v", requestID, err)
		return false, false
	}
	return decision.Approved, true
}

// remove drops a request from the pending set and cleans up its inbox files.
func (g *approvalGate) remove(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()

	if g.cfg.InboxDir != "" {
		os.Remove(requestPath(g.cfg.InboxDir, requestID))
		os.Remove(decisionPath(g.cfg.InboxDir, requestID))
	}
}

func (g *approvalGate) pendingRequests() []ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ApprovalRequest, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	return out
}

func requestPath(dir, id string) string {
	return filepath.Join(dir, id+".request.json")
}

func decisionPath(dir, id string) string {
	return filepath.Join(dir, id+".decision.json")
}

func inboxLockPath(dir string) string {
	return filepath.Join(dir, ".lock")
}

// WriteDecision drops a decision into the inbox for a waiting loop. This is
// the cross-process path used by `autopilot approve`.
func WriteDecision(inboxDir, requestID string, approved bool, decidedBy string) error {
	if inboxDir == "" {
		return fmt.Errorf("no approval inbox configured")
	}
	if _, err := os.Stat(requestPath(inboxDir, requestID)); os.IsNotExist(err) {
		return fmt.Errorf("unknown approval request %q", requestID)
	}

	lock := filelock.NewFileLock(inboxLockPath(inboxDir))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	decision := ApprovalDecision{
		RequestID: requestID,
		Approved:  approved,
		DecidedBy: decidedBy,
		DecidedAt: time.Now(),
	}
	data, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	return filelock.AtomicWrite(decisionPath(inboxDir, requestID), data)
}

// ListPendingRequests reads the request files currently in the inbox. Used by
// `autopilot approve` without a loop ID and by `autopilot status`.
func ListPendingRequests(inboxDir string) ([]ApprovalRequest, error) {
	entries, err := os.ReadDir(inboxDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var requests []ApprovalRequest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".request.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(inboxDir, entry.Name()))
		if err != nil {
			continue
		}
		var req ApprovalRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		requests = append(requests, req)
	}
	return requests, nil
}
