package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/agentkernel/internal/intent"
)

// pendingApproval tracks one outstanding human-in-the-loop approval
// request: WaitForApproval blocks on resolved until ResolveApproval (or
// ctx cancellation) delivers a decision.
type pendingApproval struct {
	resolved chan struct{}
	granted  bool
	reason   string
}

// approvalBroker implements executor.ApprovalWaiter for the main session:
// every RequestApproval intent becomes an Event pushed to the host, and
// WaitForApproval blocks until the host calls Driver.ResolveApproval with
// the matching id. Grounded on the teacher's ApprovalChecker
// (internal/agent/approval.go), which similarly gates a tool call behind
// an external decision, rebuilt here as a channel-based broker instead of
// a synchronous policy lookup since the kernel's approval intents must
// round-trip through a human.
type approvalBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	nextID  int64

	emit func(Event)
}

func newApprovalBroker(emit func(Event)) *approvalBroker {
	return &approvalBroker{pending: make(map[string]*pendingApproval), emit: emit}
}

// WaitForApproval implements executor.ApprovalWaiter.
func (b *approvalBroker) WaitForApproval(ctx context.Context, req intent.ApprovalRequest) (bool, string, error) {
	id := b.newID()
	p := &pendingApproval{resolved: make(chan struct{})}

	b.mu.Lock()
	b.pending[id] = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.emit(Event{
		Kind:           EventApprovalRequested,
		ApprovalID:     id,
		ApprovalTool:   req.Tool,
		ApprovalArgs:   string(req.Args),
		ApprovalReason: req.Reason,
	})

	select {
	case <-ctx.Done():
		return false, "cancelled", ctx.Err()
	case <-p.resolved:
		return p.granted, p.reason, nil
	}
}

// Resolve delivers a decision for a pending approval id. It is a no-op if
// the id is unknown (already resolved, or never existed).
func (b *approvalBroker) Resolve(id string, granted bool, reason string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	p.granted = granted
	p.reason = reason
	close(p.resolved)
}

func (b *approvalBroker) newID() string {
	n := atomic.AddInt64(&b.nextID, 1)
	return "appr-" + strconv.FormatInt(n, 10)
}
