package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// ErrForbidden is returned when a worker attempts a command the owning
// policy forbids outright.
var ErrForbidden = errors.New("worker: command forbidden by policy")

// ErrEscalationDenied is returned when the owning session declines a
// Restricted command.
var ErrEscalationDenied = errors.New("worker: escalation denied")

// restrictedInvoker wraps an inner ToolInvoker with the worker's
// three-way approval classification (spec §5: Allowed/Restricted/
// Forbidden). The worker's own kernel is built with a permissive,
// empty approval.Policy, so its policy never turns a tool call into a
// RequestApproval intent — gatekeeping of plain tool calls happens here,
// one layer below the kernel. Explicit confirm requests from the model
// still become RequestApproval intents, which approvalGate classifies.
type restrictedInvoker struct {
	inner      executor.ToolInvoker
	policy     approval.WorkerPolicy
	escalator  *approval.Escalator
	workerID   string
	mode       ApprovalMode
	escalateTO time.Duration
}

func newRestrictedInvoker(inner executor.ToolInvoker, policy approval.WorkerPolicy, escalator *approval.Escalator, workerID string, mode ApprovalMode, escalateTO time.Duration) *restrictedInvoker {
	return &restrictedInvoker{
		inner:      inner,
		policy:     policy,
		escalator:  escalator,
		workerID:   workerID,
		mode:       mode,
		escalateTO: escalateTO,
	}
}

// InvokeTool implements executor.ToolInvoker.
func (r *restrictedInvoker) InvokeTool(ctx context.Context, call intent.ToolCall) (string, error) {
	if r.mode == AllowAll {
		return r.inner.InvokeTool(ctx, call)
	}

	command := call.Name + " " + string(call.Arguments)
	class := r.policy.Classify(command)
	switch class {
	case approval.ClassAllowed:
		return r.inner.InvokeTool(ctx, call)
	case approval.ClassForbidden:
		return "", fmt.Errorf("%w: %s", ErrForbidden, call.Name)
	default: // approval.ClassRestricted
		return r.invokeRestricted(ctx, call, command)
	}
}

func (r *restrictedInvoker) invokeRestricted(ctx context.Context, call intent.ToolCall, command string) (string, error) {
	if r.mode == BlockRestricted || r.escalator == nil {
		return "", fmt.Errorf("%w: %s", ErrForbidden, call.Name)
	}

	req := &approval.EscalationRequest{
		WorkerID: r.workerID,
		Command:  command,
		Reason:   "restricted command requires owning session approval",
		Deadline: time.Now().Add(r.escalateTO),
	}
	resp, err := r.escalator.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("worker %s: escalation for %q: %w", r.workerID, call.Name, err)
	}
	if !resp.Approved {
		reason := resp.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return "", fmt.Errorf("%w: %s", ErrEscalationDenied, reason)
	}
	return r.inner.InvokeTool(ctx, call)
}
