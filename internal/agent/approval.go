package agent

import (
	"context"
	"sync"

	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/protocol"
)

// DefaultRejectMessage is reported to the model when the caller rejects a
// tool call without giving a reason.
const DefaultRejectMessage = "User rejected tool execution"

const cancelledMessage = "Request cancelled before approval"

// ApprovalOutcome is how a pending approval ended.
type ApprovalOutcome struct {
	Approved bool
	Decision protocol.ApprovalDecision
	Message  string
}

type approvalKey struct {
	requestID  string
	toolCallID string
}

// ApprovalGate holds tool calls that are waiting for a human decision.
//
// Entries are keyed by (requestID, toolCallID) so concurrent requests never
// resolve each other's calls. There is no timeout: an entry is released by
// Resolve, by CancelRequest, or by the waiter's context.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[approvalKey]chan ApprovalOutcome
	metrics *observability.Metrics
}

// NewApprovalGate returns an empty gate. metrics may be nil.
func NewApprovalGate(metrics *observability.Metrics) *ApprovalGate {
	return &ApprovalGate{
		pending: make(map[approvalKey]chan ApprovalOutcome),
		metrics: metrics,
	}
}

// Await registers a pending entry, calls announce, and blocks until the entry
// is resolved. announce runs after registration so a decision that races the
// announcement is never lost. If announce fails the entry is dropped and the
// call is treated as rejected.
func (g *ApprovalGate) Await(ctx context.Context, requestID, toolCallID string, announce func() error) ApprovalOutcome {
	key := approvalKey{requestID: requestID, toolCallID: toolCallID}
	ch := make(chan ApprovalOutcome, 1)

	g.mu.Lock()
	if old, ok := g.pending[key]; ok {
		// A duplicate id supersedes the older waiter.
		old <- ApprovalOutcome{Decision: protocol.DecisionReject, Message: DefaultRejectMessage}
	}
	g.pending[key] = ch
	g.mu.Unlock()

	if announce != nil {
		if err := announce(); err != nil {
			g.forget(key, ch)
			return ApprovalOutcome{Decision: protocol.DecisionReject, Message: err.Error()}
		}
	}

	select {
	case out := <-ch:
		return out
	case <-ctx.Done():
		g.forget(key, ch)
		return ApprovalOutcome{Decision: protocol.DecisionReject, Message: cancelledMessage}
	}
}

// Resolve delivers a decision. It reports false, and does nothing, when no
// matching entry is pending; late and duplicate answers are dropped.
func (g *ApprovalGate) Resolve(requestID, toolCallID string, decision protocol.ApprovalDecision, message string) bool {
	key := approvalKey{requestID: requestID, toolCallID: toolCallID}

	g.mu.Lock()
	ch, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}

	out := ApprovalOutcome{Decision: decision, Message: message}
	switch decision {
	case protocol.DecisionOnce, protocol.DecisionAlways:
		out.Approved = true
	default:
		out.Decision = protocol.DecisionReject
		if out.Message == "" {
			out.Message = DefaultRejectMessage
		}
	}
	g.metrics.RecordApproval(string(out.Decision))
	ch <- out
	return true
}

// CancelRequest rejects every entry of requestID and returns how many were
// released.
func (g *ApprovalGate) CancelRequest(requestID string) int {
	g.mu.Lock()
	var released []chan ApprovalOutcome
	for key, ch := range g.pending {
		if key.requestID == requestID {
			released = append(released, ch)
			delete(g.pending, key)
		}
	}
	g.mu.Unlock()

	for _, ch := range released {
		ch <- ApprovalOutcome{Decision: protocol.DecisionReject, Message: cancelledMessage}
	}
	if len(released) > 0 {
		g.metrics.RecordApproval("cancelled")
	}
	return len(released)
}

// Pending reports the number of entries still waiting.
func (g *ApprovalGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *ApprovalGate) forget(key approvalKey, ch chan ApprovalOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.pending[key]; ok && cur == ch {
		delete(g.pending, key)
	}
}
