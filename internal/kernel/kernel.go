package kernel

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/intent"
	"github.com/haasonsaas/agentkernel/internal/shortkey"
	"github.com/haasonsaas/agentkernel/pkg/models"
)

// SystemPrompt is injected at construction; the kernel never hard-codes
// one since that is a deployment/config concern, not core behavior.
type Kernel struct {
	config       Config
	policy       approval.Policy
	systemPrompt string
}

// New builds a Kernel. cfg and policy are pure, deterministic
// dependencies — constant across a replay, not mutable runtime state.
func New(cfg Config, policy approval.Policy, systemPrompt string) *Kernel {
	return &Kernel{config: cfg, policy: policy, systemPrompt: systemPrompt}
}

// Step is the kernel's entire public surface: a pure function from
// (state, input) to Transition. It never performs I/O, never blocks,
// never retries — all of that is a runtime concern handled by the
// executor and session driver.
func (k *Kernel) Step(state AgentState, input InputEvent) Transition {
	// Idempotent halt (spec §8): once a state has halted, every further
	// Step on it returns the same Halt, unchanged, no matter the input.
	// The session is the only thing that can lift this, by clearing
	// Halted when it turns a StepLimit halt into a granted extension.
	if state.Halted {
		return single(state, intent.NewHalt(state.HaltReason))
	}
	if state.StepCount >= k.config.MaxSteps {
		reason := intent.ExitReason{Kind: intent.ExitStepLimit}
		return single(haltState(state, reason), intent.NewHalt(reason))
	}
	if state.RejectionCount >= k.config.MaxRejections {
		reason := intent.ExitReason{
			Kind:    intent.ExitError,
			Message: "Too many tool rejections",
		}
		return single(haltState(state, reason), intent.NewHalt(reason))
	}

	switch input.Kind {
	case EventUserMessage:
		next := state.WithAppendedMessage(models.Message{Role: models.RoleUser, Content: input.UserMessage})
		next.StepCount++
		return single(next, k.requestLLM(next, "What should I do?"))

	case EventLLMResponse:
		next := state.WithAppendedMessage(models.Message{Role: models.RoleAssistant, Content: input.LLMResponse.Content})
		next.StepCount++
		resp, err := shortkey.Parse(input.LLMResponse.Content)
		if err != nil {
			return single(next, intent.NewEmitResponse("Error: "+err.Error()))
		}
		return k.dispatchParsed(next, resp)

	case EventToolResult:
		next := state.WithAppendedMessage(toolResultMessage(input.ToolResult))
		next.StepCount++
		return single(next, k.requestLLM(next, toolOutcomeScratchpad(input.ToolResult)))

	case EventApprovalResult:
		if input.ApprovalResult.Granted {
			next := state
			next.StepCount++
			return none(next)
		}
		next := state
		next.RejectionCount++
		return single(next, k.requestLLM(next, "Tool denied. What instead?"))

	case EventWorkerResult:
		next := state
		next.StepCount++
		return single(next, k.requestLLM(next, workerResultScratchpad(input.WorkerResult)))

	case EventRuntimeError:
		reason := intent.ExitReason{
			Kind:    intent.ExitError,
			Message: "Runtime: " + input.RuntimeError,
		}
		return single(haltState(state, reason), intent.NewHalt(reason))

	case EventShutdown:
		reason := intent.ExitReason{Kind: intent.ExitUserRequest}
		return single(haltState(state, reason), intent.NewHalt(reason))

	case EventTick:
		return none(state)

	default:
		return none(state)
	}
}

// haltState returns a copy of state marked Halted for reason, so a later
// Step on it short-circuits to the same Halt instead of re-evaluating
// input against MaxSteps/MaxRejections.
func haltState(state AgentState, reason intent.ExitReason) AgentState {
	next := state
	next.Halted = true
	next.HaltReason = reason
	return next
}

func (k *Kernel) requestLLM(state AgentState, scratchpad string) intent.Intent {
	return intent.NewRequestLLM(intent.LLMRequest{
		Context: intent.LLMContext{
			System:     k.systemPrompt,
			Scratchpad: scratchpad,
		},
	})
}

func toolResultMessage(tr ToolResultPayload) models.Message {
	switch tr.Result.Kind {
	case ToolSuccess:
		return models.Message{Role: models.RoleTool, Content: tr.Result.Output}
	case ToolCancelled:
		return models.Message{Role: models.RoleTool, Content: "cancelled"}
	default:
		return models.Message{Role: models.RoleTool, Content: tr.Result.Message}
	}
}

func toolOutcomeScratchpad(tr ToolResultPayload) string {
	switch tr.Result.Kind {
	case ToolSuccess:
		return fmt.Sprintf("Tool %q completed: %s. What next?", tr.Tool, tr.Result.Output)
	case ToolCancelled:
		return fmt.Sprintf("Tool %q was cancelled. What next?", tr.Tool)
	default:
		return fmt.Sprintf("Tool %q failed: %s. What next?", tr.Tool, tr.Result.Message)
	}
}

func workerResultScratchpad(wr WorkerResultPayload) string {
	if wr.Ok != nil {
		return fmt.Sprintf("Worker %q finished: %s. What next?", wr.ID, *wr.Ok)
	}
	if wr.Err != nil {
		return fmt.Sprintf("Worker %q failed: %s. What next?", wr.ID, *wr.Err)
	}
	return fmt.Sprintf("Worker %q finished with no result. What next?", wr.ID)
}

// dispatchParsed applies the parsed-response -> Intent mapping (spec
// §4.2). The PendingRemember side channel (see internal/shortkey and the
// Remember+FinalAnswer open question decision) is applied uniformly: a
// memory intent is built whenever present, regardless of which
// ResponseKind won precedence, and is always ordered before any
// accompanying tool call.
func (k *Kernel) dispatchParsed(state AgentState, resp shortkey.Response) Transition {
	switch resp.Kind {
	case shortkey.KindFinalAnswer:
		if resp.PendingRemember != nil {
			b := intent.BuilderAtStep(state.StepCount)
			b.Add(memoryIntent(*resp.PendingRemember))
			b.Add(intent.NewEmitResponse(resp.FinalAnswerText))
			return graph(state, b.Build())
		}
		return single(state, intent.NewEmitResponse(resp.FinalAnswerText))

	case shortkey.KindRemember:
		return single(state, memoryIntent(resp.RememberContent))

	case shortkey.KindRememberAndCall:
		b := intent.BuilderAtStep(state.StepCount)
		memID := b.Add(memoryIntent(resp.RememberContent))
		b.AddWithDeps(k.promoteToolCall(resp.Tool), memID)
		return graph(state, b.Build())

	case shortkey.KindConfirmRequest:
		reqIntent := intent.NewRequestApproval(intent.ApprovalRequest{
			Tool:   resp.Tool.Name,
			Args:   resp.Tool.Arguments,
			Reason: resp.Thought,
		})
		if resp.PendingRemember != nil {
			b := intent.BuilderAtStep(state.StepCount)
			memID := b.Add(memoryIntent(*resp.PendingRemember))
			b.AddWithDeps(reqIntent, memID)
			return graph(state, b.Build())
		}
		return single(state, reqIntent)

	case shortkey.KindToolCalls:
		if len(resp.ToolCalls) == 1 {
			return single(state, k.promoteToolCall(resp.ToolCalls[0]))
		}
		b := intent.BuilderAtStep(state.StepCount)
		for _, c := range resp.ToolCalls {
			b.Add(k.promoteToolCall(c))
		}
		return graph(state, b.Build())

	default: // shortkey.KindMalformed
		return single(state, intent.NewEmitResponse("Error: "+resp.MalformedError))
	}
}

// spawnWorkerTool is the reserved tool name that promotes a tool call to
// a SpawnWorker intent instead of a CallTool, the same way "remember" is
// reserved for the memory side effect.
const spawnWorkerTool = "spawn_worker"

// promoteToolCall returns a CallTool intent, a SpawnWorker intent for the
// reserved spawn_worker tool name, or either wrapped in a RequestApproval
// intent when the approval policy demands confirmation first.
func (k *Kernel) promoteToolCall(c shortkey.ToolCall) intent.Intent {
	if c.Name == spawnWorkerTool {
		return k.promoteSpawnWorker(c)
	}
	if k.policy.Check(c.Name, string(c.Arguments)) == approval.RequiresApproval {
		return intent.NewRequestApproval(intent.ApprovalRequest{
			Tool:   c.Name,
			Args:   c.Arguments,
			Reason: "policy requires approval for " + c.Name,
		})
	}
	return intent.NewCallTool(intent.ToolCall{Name: c.Name, Arguments: c.Arguments})
}

// promoteSpawnWorker decodes c.Arguments as a intent.WorkerSpec. A
// malformed spec still yields a SpawnWorker intent — the executor and
// worker manager are responsible for rejecting it at dispatch time,
// since the kernel never fails a step over unparsable arguments (it has
// no way to signal that short of a Halt, which spawn_worker doesn't
// warrant).
func (k *Kernel) promoteSpawnWorker(c shortkey.ToolCall) intent.Intent {
	var spec intent.WorkerSpec
	_ = json.Unmarshal(c.Arguments, &spec)
	if k.policy.Check(c.Name, string(c.Arguments)) == approval.RequiresApproval {
		return intent.NewRequestApproval(intent.ApprovalRequest{
			Tool:   c.Name,
			Args:   c.Arguments,
			Reason: "policy requires approval for " + c.Name,
		})
	}
	return intent.NewSpawnWorker(spec)
}

// memoryIntent builds the memory side-effect intent for Remember and
// RememberAndCall responses. The core has no memory/vector store
// implementation (an explicit Non-goal); it only emits the request as a
// conventional CallTool so an external tool adapter can persist it.
func memoryIntent(content string) intent.Intent {
	args, _ := json.Marshal(map[string]string{"content": content})
	return intent.NewCallTool(intent.ToolCall{Name: "remember", Arguments: args})
}
