package worker

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// toolScopeInvoker enforces a WorkerSpec's AllowedTools/DeniedTools lists
// ahead of the restricted-command classifier, mirroring the teacher's
// per-agent tool policy applied in runSubAgent
// (internal/tools/subagent/spawn.go: policy.Resolver/policy.Policy). An
// empty AllowedTools means "no allowlist restriction"; DeniedTools always
// wins over AllowedTools.
type toolScopeInvoker struct {
	inner   executor.ToolInvoker
	allowed map[string]struct{}
	denied  map[string]struct{}
}

func newToolScopeInvoker(inner executor.ToolInvoker, allowedTools, deniedTools []string) *toolScopeInvoker {
	allowed := make(map[string]struct{}, len(allowedTools))
	for _, n := range allowedTools {
		allowed[n] = struct{}{}
	}
	denied := make(map[string]struct{}, len(deniedTools))
	for _, n := range deniedTools {
		denied[n] = struct{}{}
	}
	return &toolScopeInvoker{inner: inner, allowed: allowed, denied: denied}
}

func (s *toolScopeInvoker) InvokeTool(ctx context.Context, call intent.ToolCall) (string, error) {
	if _, deny := s.denied[call.Name]; deny {
		return "", fmt.Errorf("%w: %s is denied for this worker", ErrForbidden, call.Name)
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[call.Name]; !ok {
			return "", fmt.Errorf("%w: %s is not in this worker's allowed tools", ErrForbidden, call.Name)
		}
	}
	return s.inner.InvokeTool(ctx, call)
}
