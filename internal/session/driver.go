package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/history"
	"github.com/haasonsaas/agentkernel/internal/intent"
	"github.com/haasonsaas/agentkernel/internal/kernel"
	"github.com/haasonsaas/agentkernel/internal/ratelimit"
	"github.com/haasonsaas/agentkernel/internal/retry"
	"github.com/haasonsaas/agentkernel/internal/worker"
	"github.com/haasonsaas/agentkernel/pkg/models"
)

// Driver is the long-running loop of spec §4: it owns one kernel.Kernel
// and its AgentState, feeds it InputEvents (user turns, tool/LLM/approval
// results, worker results, heartbeat ticks), dispatches the resulting
// Intents through an executor.Executor, and streams Events to the host.
// Grounded on the teacher's AgenticLoop (internal/agent/loop.go): a
// channel of output chunks, a run goroutine, and a collaborator set built
// once at construction — generalized here to a turn-unbounded loop since
// the kernel, unlike the teacher's runtime, treats EmitResponse as "done
// with this turn", not "done for good".
type Driver struct {
	cfg Config

	mu    sync.Mutex
	state kernel.AgentState

	kernel *kernel.Kernel
	exec   *executor.Executor
	hist   *history.Manager

	workers *worker.Manager
	broker  *approvalBroker
	esc     *approval.Escalator

	limiter *ratelimit.Limiter
	logger  *slog.Logger

	events chan Event
	input  chan kernel.InputEvent

	budgetMu sync.Mutex
	maxSteps uint32

	closeOnce sync.Once
	done      chan struct{}
}

// NewDriver wires every collaborator per spec §6's default config: a
// rate-limited/retrying LLM decorator (spec §4.7/4.8), a worker.Manager
// gated by its own quota and its own restricted-tool policy (spec §5),
// and the Driver itself standing in as both executor.ApprovalWaiter (for
// main-session RequestApproval intents) and the consumer of worker
// escalations.
func NewDriver(cfg Config, llm executor.LLMClient, tools executor.ToolInvoker, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	limiter := ratelimit.New(cfg.MainRateLimit, cfg.WorkerRateLimit)
	breaker := retry.NewCircuitBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout)
	mainLLM := newRateLimitedLLM(llm, limiter, breaker, cfg.Retry, ratelimit.Main)
	workerLLM := newRateLimitedLLM(llm, limiter, breaker, cfg.Retry, ratelimit.Worker)

	d := &Driver{
		cfg:      cfg,
		state:    kernel.NewAgentState(),
		hist:     history.NewManager(cfg.History),
		esc:      approval.NewEscalator(32),
		limiter:  limiter,
		logger:   logger,
		events:   make(chan Event, 64),
		input:    make(chan kernel.InputEvent, 64),
		maxSteps: cfg.Kernel.MaxSteps,
		done:     make(chan struct{}),
	}

	d.broker = newApprovalBroker(d.emit)
	d.workers = worker.NewManager(cfg.Worker, workerLLM, tools, cfg.WorkerPolicy, d.esc, logger, d.onWorkerResult)
	d.kernel = kernel.New(cfg.Kernel, cfg.Policy, cfg.SystemPrompt)
	d.exec = executor.New(cfg.Executor, executor.NewRegistry(), tools, mainLLM, d.broker, d.workers, d)

	return d
}

// Events returns the channel of outbound Events. The caller must drain it
// or Start's internal goroutine will block once the buffer fills.
func (d *Driver) Events() <-chan Event {
	return d.events
}

// EmitResponse implements executor.OutputSink. The executor calls it for
// EmitResponse intents that run as nodes of an intent graph; a lone
// EmitResponse intent is emitted by advance directly. isPartial is passed
// through to the Event unchanged.
func (d *Driver) EmitResponse(ctx context.Context, content string, isPartial bool) error {
	d.emit(Event{Kind: EventText, Text: content, IsPartial: isPartial})
	return nil
}

// SubmitUserMessage enqueues a new user turn. It returns an error if the
// input queue is full rather than blocking the caller indefinitely.
func (d *Driver) SubmitUserMessage(text string) error {
	select {
	case d.input <- kernel.NewUserMessage(text):
		return nil
	default:
		return fmt.Errorf("session: input queue full")
	}
}

// ResolveApproval delivers a host decision for a pending RequestApproval
// intent raised as an EventApprovalRequested Event.
func (d *Driver) ResolveApproval(id string, granted bool, reason string) {
	d.broker.Resolve(id, granted, reason)
}

// ResolveEscalation delivers a host decision for a pending worker
// escalation request. escalationLoop surfaces each request as an
// EventApprovalRequested Event that carries neither an ApprovalID nor the
// *EscalationRequest itself, and ResolveApproval does not answer
// escalations.
func (d *Driver) ResolveEscalation(req *approval.EscalationRequest, approved bool, reason string) {
	d.esc.Resolve(req, approval.EscalationResponse{Approved: approved, Reason: reason})
}

// Start launches the Driver's run loop, heartbeat ticker, and escalation
// consumer as background goroutines, returning immediately. Close the
// returned Events channel's producer side by cancelling ctx.
func (d *Driver) Start(ctx context.Context) {
	go d.runLoop(ctx)
	go d.heartbeatLoop(ctx)
}

// Shutdown requests a graceful stop: the next input processed is a
// Shutdown event, which the kernel turns into an ExitUserRequest Halt.
func (d *Driver) Shutdown() {
	select {
	case d.input <- kernel.NewShutdown():
	case <-d.done:
	}
}

func (d *Driver) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("session: dropping event, host is not draining the channel", "kind", ev.Kind)
	}
}

func (d *Driver) onWorkerResult(workerID string, result string, err error) {
	var payload kernel.WorkerResultPayload
	payload.ID = workerID
	if err != nil {
		msg := err.Error()
		payload.Err = &msg
		d.emit(Event{Kind: EventWorkerResult, WorkerID: workerID, WorkerErr: msg})
	} else {
		payload.Ok = &result
		d.emit(Event{Kind: EventWorkerResult, WorkerID: workerID, WorkerResult: result})
	}
	select {
	case d.input <- kernel.NewWorkerResult(payload):
	case <-d.done:
	}
}

func (d *Driver) heartbeatLoop(ctx context.Context) {
	interval := d.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case now := <-ticker.C:
			for _, stuck := range d.workers.StuckJobs(now, d.cfg.StuckWorkerIdle) {
				d.emit(Event{Kind: EventWorkerStuck, WorkerID: stuck.WorkerID, StuckIdleMS: stuck.IdleFor.Milliseconds()})
			}
			select {
			case d.input <- kernel.NewTick(nil):
			default:
			}
		}
	}
}

// escalationLoop drains the worker escalation queue, surfacing each
// request to the host as an EventApprovalRequested Event with the
// WorkerID, the command as ApprovalTool, and the reason. It assigns no
// ApprovalID and records nothing in the broker's pending map; an
// escalation not answered through ResolveEscalation fails with
// ErrEscalationTimeout once its deadline passes.
func (d *Driver) escalationLoop(ctx context.Context) {
	for {
		req, err := d.esc.Next(ctx)
		if err != nil {
			return
		}
		d.emit(Event{
			Kind:           EventApprovalRequested,
			WorkerID:       req.WorkerID,
			ApprovalTool:   req.Command,
			ApprovalReason: req.Reason,
		})
	}
}

// runLoop is the Driver's single-threaded event processor: every
// InputEvent is stepped through the kernel exactly once at a time, so
// AgentState never needs its own lock beyond the mutex guarding reads
// from other goroutines (Events/diagnostics).
func (d *Driver) runLoop(ctx context.Context) {
	defer d.closeOnce.Do(func() { close(d.done) })
	go d.escalationLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			// spec.md:162/216: cancellation still owes the kernel a
			// Shutdown delivery so it gets the chance to Halt with
			// ExitUserRequest and the host sees a proper EventHalted
			// rather than the loop just vanishing.
			d.step(ctx, kernel.NewShutdown())
			return
		case <-d.done:
			return
		case ev := <-d.input:
			d.step(ctx, ev)
		}
	}
}

func (d *Driver) step(ctx context.Context, ev kernel.InputEvent) {
	d.mu.Lock()
	if ev.Kind == kernel.EventUserMessage {
		// spec §4.6 step 5: splice back any archived segment whose
		// keywords overlap the new message before the kernel ever sees
		// it, so a resumed topic isn't re-explained from scratch.
		if reinjected := d.hist.Reinject(ev.UserMessage); len(reinjected) > 0 {
			d.state.History = append(append([]models.Message(nil), d.state.History...), reinjected...)
		}
	}
	state := d.state
	d.mu.Unlock()

	tr := d.kernel.Step(state, ev)
	d.advance(ctx, tr)
}

// advance drives a Transition to completion: intents/graphs are executed
// and their observations fed back into the kernel until a DecisionNone or
// a terminal Halt/EmitResponse is reached. EmitResponse only ends the
// current turn; the Driver then waits for the next InputEvent rather than
// stopping, unlike a worker's one-shot run.
func (d *Driver) advance(ctx context.Context, tr kernel.Transition) {
	for {
		d.mu.Lock()
		d.state = tr.NextState
		d.mu.Unlock()
		d.pruneHistory()

		switch tr.Kind {
		case kernel.DecisionNone:
			return

		case kernel.DecisionIntent:
			if tr.Intent.Kind == intent.KindEmitResponse {
				d.emit(Event{Kind: EventText, Text: tr.Intent.EmitResponse})
				d.emit(Event{Kind: EventResponseComplete})
				return
			}
			if tr.Intent.Kind == intent.KindHalt {
				d.handleHalt(ctx, tr.Intent.Halt)
				return
			}
			if tr.Intent.Kind == intent.KindRequestLLM {
				d.emit(Event{Kind: EventThinking})
			}
			if tr.Intent.Kind == intent.KindCallTool {
				d.emit(Event{Kind: EventToolStarted, ToolName: tr.Intent.CallTool.Name, ToolArgs: string(tr.Intent.CallTool.Arguments)})
			}

			obs, err := d.runNode(ctx, tr.NextState.StepCount, tr.Intent)
			if err != nil {
				d.emit(Event{Kind: EventError, Err: err})
				return
			}
			// A spawned worker's result re-enters later as its own
			// WorkerResult InputEvent (via onWorkerResult); there is no
			// synchronous observation to translate, so the current turn
			// simply ends here, same as EmitResponse.
			if obs.Kind == executor.ObsWorkerSpawned {
				d.emit(Event{Kind: EventWorkerSpawned, WorkerID: obs.WorkerID})
				return
			}
			ev, err := d.translate(ctx, obs, tr.Intent)
			if err != nil {
				d.emit(Event{Kind: EventError, Err: err})
				return
			}
			tr = d.kernel.Step(tr.NextState, ev)

		case kernel.DecisionGraph:
			next, err := d.stepGraph(ctx, tr.NextState, tr.Graph)
			if err != nil {
				d.emit(Event{Kind: EventError, Err: err})
				return
			}
			tr = next
		}
	}
}

// handleHalt applies the at-most-once step-budget extension (spec §9
// Open Question 3): the first time a session hits ExitStepLimit, the
// Driver rebuilds its kernel with MaxSteps raised by
// cfg.StepBudgetExtension and continues instead of stopping. A second
// ExitStepLimit halts for real — kernel.Kernel exposes no mutator for its
// own Config, so "rebuild the kernel" is the only way to change the
// budget a running session is held to.
func (d *Driver) handleHalt(ctx context.Context, reason intent.ExitReason) {
	if reason.Kind == intent.ExitStepLimit {
		d.mu.Lock()
		extended := d.state.BudgetExtended
		d.mu.Unlock()

		if !extended {
			d.budgetMu.Lock()
			d.maxSteps += d.cfg.StepBudgetExtension
			newCfg := d.cfg.Kernel
			newCfg.MaxSteps = d.maxSteps
			d.kernel = kernel.New(newCfg, d.cfg.Policy, d.cfg.SystemPrompt)
			d.budgetMu.Unlock()

			d.mu.Lock()
			d.state.BudgetExtended = true
			// The kernel marked this state Halted when it hit
			// ExitStepLimit; granting the extension is the one case
			// where the session itself lifts a halt instead of
			// stopping, so it must clear the flag to keep the run
			// going.
			d.state.Halted = false
			d.state.HaltReason = intent.ExitReason{}
			d.mu.Unlock()

			d.logger.Info("session: step budget extended", "max_steps", d.maxSteps)
			d.emit(Event{Kind: EventStatus, Status: fmt.Sprintf("step budget extended to %d", d.maxSteps)})
			return
		}
	}
	d.emit(Event{Kind: EventHalted, Halted: &reason})
	d.closeOnce.Do(func() { close(d.done) })
}

// pruneHistory applies spec §4.6's condensation and, if a segment was
// actually archived, surfaces spec §4.5's "Pruning notifications"
// informational event — emitted between steps, never mid-step, since
// this is called once per advance() iteration rather than from within
// the kernel.
func (d *Driver) pruneHistory() {
	d.mu.Lock()
	before := len(d.hist.Archive())
	pruned := d.hist.Prune(time.Now().Unix(), d.state.History)
	pruned = d.hist.ApplyToolResultPruning(pruned)
	d.state.History = pruned
	after := d.hist.Archive()
	d.mu.Unlock()

	if len(after) > before {
		seg := after[len(after)-1]
		d.emit(Event{
			Kind:               EventContextPruned,
			PrunedMessageCount: len(seg.Messages),
			PrunedTokensSaved:  seg.TokensSaved,
			PrunedSummary:      seg.Summary,
		})
	}
}

func (d *Driver) runNode(ctx context.Context, step uint32, it intent.Intent) (executor.Observation, error) {
	id := intent.ID{Step: step, Local: 0}
	obs, err := d.exec.Run(ctx, intent.Single(id, it))
	if err != nil {
		return executor.Observation{}, err
	}
	if len(obs) != 1 {
		return executor.Observation{}, fmt.Errorf("session: expected exactly one observation, got %d", len(obs))
	}
	return obs[0], nil
}

func (d *Driver) stepGraph(ctx context.Context, state kernel.AgentState, g *intent.Graph) (kernel.Transition, error) {
	for _, node := range g.Nodes() {
		if node.Intent.Kind == intent.KindCallTool {
			d.emit(Event{Kind: EventToolStarted, ToolName: node.Intent.CallTool.Name, ToolArgs: string(node.Intent.CallTool.Arguments)})
		}
	}

	observations, err := d.exec.Run(ctx, g)
	if err != nil {
		return kernel.Transition{}, err
	}

	tr := kernel.Transition{NextState: state}
	for _, obs := range observations {
		node, ok := g.Get(obs.ID)
		if !ok {
			return kernel.Transition{}, fmt.Errorf("session: observation for unknown node %s", obs.ID)
		}
		// Same as advance(): a spawned worker's result arrives later as
		// its own InputEvent, so this node contributes no kernel step of
		// its own within the graph.
		if obs.Kind == executor.ObsWorkerSpawned {
			d.emit(Event{Kind: EventWorkerSpawned, WorkerID: obs.WorkerID})
			continue
		}
		ev, err := d.translate(ctx, obs, node.Intent)
		if err != nil {
			return kernel.Transition{}, err
		}
		tr = d.kernel.Step(tr.NextState, ev)
	}
	return tr, nil
}

// translate mirrors internal/worker/runner.go's Observation->InputEvent
// table, including the approval-grant replay: per the kernel's contract,
// EventApprovalResult{Granted:true} returns DecisionNone rather than a
// fresh CallTool intent, so the Driver must itself re-run the originally
// requested call and report it as a ToolResult. This logic is duplicated
// rather than shared with internal/worker to avoid a session<->worker
// import cycle (worker must not import session).
func (d *Driver) translate(ctx context.Context, obs executor.Observation, it intent.Intent) (kernel.InputEvent, error) {
	switch obs.Kind {
	case executor.ObsToolCompleted:
		name := ""
		if it.CallTool != nil {
			name = it.CallTool.Name
		}
		d.emit(Event{Kind: EventToolResult, ToolName: name, ToolOK: obs.ToolResult.Kind == executor.ToolOutcomeSuccess, ToolOut: obs.ToolResult.Output, ToolErr: obs.ToolResult.Message})
		return toolResultEvent(name, obs.ToolResult), nil

	case executor.ObsLLMCompleted:
		return kernel.NewLLMResponse(kernel.LLMResponsePayload{
			Content: obs.LLMResult.Content,
			Usage:   models.Usage{PromptTokens: obs.LLMResult.Usage.PromptTokens, CompletionTokens: obs.LLMResult.Usage.CompletionTokens, TotalTokens: obs.LLMResult.Usage.TotalTokens},
			Model:   obs.LLMResult.Model,
		}), nil

	case executor.ObsApprovalCompleted:
		if !obs.ApprovalGrant {
			return kernel.NewApprovalResult(kernel.ApprovalResultPayload{Granted: false, Reason: obs.ApprovalNote}), nil
		}
		call := intent.ToolCall{Name: it.RequestApproval.Tool, Arguments: it.RequestApproval.Args}
		toolObs, err := d.runNode(ctx, 0, intent.NewCallTool(call))
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
