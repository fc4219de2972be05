package worker

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
	"github.com/haasonsaas/agentkernel/internal/kernel"
	"github.com/haasonsaas/agentkernel/pkg/models"
)

// worker drives one spawned job to completion: its own kernel.Kernel and
// AgentState, its own executor.Executor, a restricted ToolInvoker and
// ApprovalWaiter wired per spec §5's isolation model. A worker never
// spawns workers of its own (its Executor is built with a nil
// WorkerSpawner) and has no partial-output sink — its only observable
// result is the one string or error Run returns.
type worker struct {
	id   string
	spec intent.WorkerSpec
	cfg  Config

	kernel *kernel.Kernel
	exec   *executor.Executor
}

func newWorker(id string, spec intent.WorkerSpec, llm executor.LLMClient, tools executor.ToolInvoker, policy approval.WorkerPolicy, escalator *approval.Escalator, cfg Config) *worker {
	scoped := newToolScopeInvoker(tools, spec.AllowedTools, spec.DeniedTools)
	restricted := newRestrictedInvoker(scoped, policy, escalator, id, cfg.ApprovalMode, cfg.EscalationTimeout)
	gate := newApprovalGate(policy, escalator, id, cfg.ApprovalMode, cfg.EscalationTimeout)

	kcfg := kernel.DefaultConfig()
	if cfg.MaxSteps > 0 {
		kcfg.MaxSteps = cfg.MaxSteps
	}
	if cfg.MaxRejections > 0 {
		kcfg.MaxRejections = cfg.MaxRejections
	}

	// approval.Policy{} is the zero value: Check always returns Allowed,
	// so the worker's own kernel never emits a RequestApproval intent of
	// its own accord (spec §5 — all gatekeeping for a worker happens one
	// layer down, in restricted/gate, not in the kernel's policy).
	k := kernel.New(kcfg, approval.Policy{}, "")

	// workers is nil: a worker may never spawn a worker (spec §5). Any
	// SpawnWorker intent a worker's kernel somehow produces resolves to a
	// RuntimeError observation via the executor's existing nil-collaborator
	// handling, with no special case needed here.
	ex := executor.New(executor.DefaultConfig(), executor.NewRegistry(), restricted, llm, gate, nil, nil)

	return &worker{id: id, spec: spec, cfg: cfg, kernel: k, exec: ex}
}

// run drives the worker's kernel/executor loop until an EmitResponse or
// Halt intent is reached. Receiving EmitResponse — not just an explicit
// Halt — ends the run: a worker has no further user turns once it has
// answered its objective.
func (w *worker) run(ctx context.Context) (string, error) {
	state := kernel.NewAgentState()
	tr := w.kernel.Step(state, kernel.NewUserMessage(w.spec.Objective))

	for {
		state = tr.NextState
		switch tr.Kind {
		case kernel.DecisionNone:
			return "", fmt.Errorf("worker %s: kernel produced no action from a non-terminal transition", w.id)

		case kernel.DecisionIntent:
			if tr.Intent.Kind == intent.KindEmitResponse {
				return tr.Intent.EmitResponse, nil
			}
			if tr.Intent.Kind == intent.KindHalt {
				if tr.Intent.Halt.Kind == intent.ExitError {
					return "", fmt.Errorf("worker %s halted: %s", w.id, tr.Intent.Halt.Message)
				}
				return "", nil
			}

			obs, err := w.runNode(ctx, state.StepCount, tr.Intent)
			if err != nil {
				return "", err
			}
			ev, err := w.translate(ctx, obs, tr.Intent)
			if err != nil {
				return "", err
			}
			tr = w.kernel.Step(state, ev)

		case kernel.DecisionGraph:
			next, err := w.stepGraph(ctx, state, tr.Graph)
			if err != nil {
				return "", err
			}
			tr = next
		}
	}
}

// runNode executes a single intent through the worker's own Executor by
// wrapping it in a one-node graph; the deterministic id is meaningless
// outside this call (workers never build multi-step graphs themselves,
// per spec §5) so Local is always 0.
func (w *worker) runNode(ctx context.Context, step uint32, it intent.Intent) (executor.Observation, error) {
	id := intent.ID{Step: step, Local: 0}
	obs, err := w.exec.Run(ctx, intent.Single(id, it))
	if err != nil {
		return executor.Observation{}, err
	}
	if len(obs) != 1 {
		return executor.Observation{}, fmt.Errorf("worker %s: expected exactly one observation, got %d", w.id, len(obs))
	}
	return obs[0], nil
}

// stepGraph runs every node of g concurrently, then feeds each resulting
// Observation into the kernel sequentially, in completion order. Only the
// final Step's Transition is acted on further; intermediate ones (almost
// always redundant RequestLLM intents from the kernel's per-ToolResult
// handling) are consumed purely to advance History/StepCount correctly.
func (w *worker) stepGraph(ctx context.Context, state kernel.AgentState, g *intent.Graph) (kernel.Transition, error) {
	observations, err := w.exec.Run(ctx, g)
	if err != nil {
		return kernel.Transition{}, err
	}

	tr := kernel.Transition{NextState: state}
	for _, obs := range observations {
		node, ok := g.Get(obs.ID)
		if !ok {
			return kernel.Transition{}, fmt.Errorf("worker %s: observation for unknown node %s", w.id, obs.ID)
		}
		ev, err := w.translate(ctx, obs, node.Intent)
		if err != nil {
			return kernel.Transition{}, err
		}
		tr = w.kernel.Step(tr.NextState, ev)
	}
	return tr, nil
}

// translate converts one executor Observation, plus the Intent it
// answers, into the kernel InputEvent that reports it. ObsApprovalCompleted
// with a grant is special: per the kernel's contract (EventApprovalResult
// Granted=true returns DecisionNone — no fresh CallTool intent), the
// driver itself must now run the originally-requested tool call and
// report *that* as a ToolResult event instead.
func (w *worker) translate(ctx context.Context, obs executor.Observation, it intent.Intent) (kernel.InputEvent, error) {
	switch obs.Kind {
	case executor.ObsToolCompleted:
		name := ""
		if it.CallTool != nil {
			name = it.CallTool.Name
		}
		return toolResultEvent(name, obs.ToolResult), nil

	case executor.ObsLLMCompleted:
		return kernel.NewLLMResponse(kernel.LLMResponsePayload{
			Content: obs.LLMResult.Content,
			Usage:   convertUsage(obs.LLMResult.Usage),
			Model:   obs.LLMResult.Model,
		}), nil

	case executor.ObsApprovalCompleted:
		if !obs.ApprovalGrant {
			return kernel.NewApprovalResult(kernel.ApprovalResultPayload{Granted: false, Reason: obs.ApprovalNote}), nil
		}
		call := intent.ToolCall{Name: it.RequestApproval.Tool, Arguments: it.RequestApproval.Args}
		toolObs, err := w.runNode(ctx, 0, intent.NewCallTool(call))
		if err != nil {
			return kernel.InputEvent{}, err
		}
		return toolResultEvent(call.Name, toolObs.ToolResult), nil

	case executor.ObsRuntimeError:
		return kernel.NewRuntimeError(obs.Error), nil

	default:
		return kernel.NewRuntimeError(fmt.Sprintf("unexpected observation kind %s", obs.Kind)), nil
	}
}

func toolResultEvent(toolName string, out executor.ToolOutcome) kernel.InputEvent {
	if out.Kind == executor.ToolOutcomeSuccess {
		return kernel.NewToolResult(kernel.ToolResultPayload{
			Tool:   toolName,
			Result: kernel.ToolOutcome{Kind: kernel.ToolSuccess, Output: out.Output},
		})
	}
	return kernel.NewToolResult(kernel.ToolResultPayload{
		Tool: toolName,
		Result: kernel.ToolOutcome{
			Kind:      kernel.ToolError,
			Message:   out.Message,
			Retryable: out.Retryable,
		},
	})
}

func convertUsage(u executor.Usage) models.Usage {
	return models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
