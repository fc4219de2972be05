package worker

import (
	"context"
	"time"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// approvalGate classifies a worker's explicit confirm requests (shortkey
// "c" field) the same way restrictedInvoker classifies plain tool calls:
// Allowed auto-grants, Forbidden auto-denies, Restricted escalates to the
// owning session. It implements executor.ApprovalWaiter.
type approvalGate struct {
	policy     approval.WorkerPolicy
	escalator  *approval.Escalator
	workerID   string
	mode       ApprovalMode
	escalateTO time.Duration
}

func newApprovalGate(policy approval.WorkerPolicy, escalator *approval.Escalator, workerID string, mode ApprovalMode, escalateTO time.Duration) *approvalGate {
	return &approvalGate{
		policy:     policy,
		escalator:  escalator,
		workerID:   workerID,
		mode:       mode,
		escalateTO: escalateTO,
	}
}

// WaitForApproval implements executor.ApprovalWaiter.
func (g *approvalGate) WaitForApproval(ctx context.Context, req intent.ApprovalRequest) (bool, string, error) {
	if g.mode == AllowAll {
		return true, "worker policy allows all", nil
	}

	command := req.Tool + " " + string(req.Args)
	switch g.policy.Classify(command) {
	case approval.ClassAllowed:
		return true, "worker policy: allowed", nil
	case approval.ClassForbidden:
		return false, "worker policy: forbidden", nil
	default: // approval.ClassRestricted
		if g.mode == BlockRestricted || g.escalator == nil {
			return false, "worker policy: restricted, no escalation path", nil
		}
		escReq := &approval.EscalationRequest{
			WorkerID: g.workerID,
			Command:  command,
			Reason:   req.Reason,
			Deadline: time.Now().Add(g.escalateTO),
		}
		resp, err := g.escalator.Submit(ctx, escReq)
		if err != nil {
			return false, "", err
		}
		return resp.Approved, resp.Reason, nil
	}
}
