package executor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentkernel/internal/intent"
)

var tracer = otel.Tracer("agentkernel/executor")

// Executor runs one intent.Graph to completion: a semaphore-bounded,
// dependency-ordered concurrent scheduler. One Executor instance is
// reused across many graphs within a session.
type Executor struct {
	cfg      Config
	registry *Registry
	sem      chan struct{}
	metrics  *Metrics

	tools     ToolInvoker
	llm       LLMClient
	approvals ApprovalWaiter
	workers   WorkerSpawner
	sink      OutputSink
}

// New builds an Executor. Any collaborator may be nil if the caller knows
// the graphs it will run never exercise that intent kind; a nil
// collaborator invoked anyway produces a RuntimeError observation rather
// than a panic.
func New(cfg Config, registry *Registry, tools ToolInvoker, llm LLMClient, approvals ApprovalWaiter, workers WorkerSpawner, sink OutputSink) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Executor{
		cfg:       cfg,
		registry:  registry,
		sem:       make(chan struct{}, cfg.MaxConcurrency),
		metrics:   GetMetrics(),
		tools:     tools,
		llm:       llm,
		approvals: approvals,
		workers:   workers,
		sink:      sink,
	}
}

// Run executes every node of g and returns one Observation per node, in
// completion order. It implements the six executor-contract rules:
//  1. a node only starts once every dependency has a terminal observation;
//  2. independent ready nodes run concurrently, bounded by MaxConcurrency;
//  3. a dependency's failure (ToolOutcome.Kind==ToolOutcomeError, or any
//     RuntimeError observation) propagates: dependents are never started
//     and instead receive a synthetic RuntimeError observation of their
//     own, "upstream dependency failed";
//  4. ctx cancellation stops scheduling new nodes and cancels in-flight
//     ones; every node still without an observation (never started, or
//     in flight when ctx fired) receives a RuntimeError "cancelled";
//  5. every node gets exactly one terminal observation;
//  6. the graph is validated (acyclic, no unknown dependency) before any
//     node runs — Run returns that error immediately and executes nothing.
func (e *Executor) Run(ctx context.Context, g *intent.Graph) ([]Observation, error) {
	e.metrics.graphSubmitted()
	if err := g.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "executor.Run", trace.WithAttributes(
		attribute.Int("intent.graph.size", g.Len()),
	))
	defer span.End()

	type result struct {
		id  intent.ID
		obs Observation
	}

	total := g.Len()
	results := make([]Observation, 0, total)
	completed := make([]intent.ID, 0, total)
	failed := make(map[intent.ID]struct{})
	started := make(map[intent.ID]struct{})

	resultsCh := make(chan result, total)
	var wg sync.WaitGroup
	var mu sync.Mutex // guards completed/failed/started bookkeeping

	launch := func(n intent.Node) {
		started[n.ID] = struct{}{}
		wg.Add(1)
		e.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-e.sem }()
			defer func() {
				if p := recover(); p != nil {
					resultsCh <- result{id: n.ID, obs: Observation{Kind: ObsRuntimeError, ID: n.ID, Error: "panic while executing intent"}}
				}
			}()
			obs := e.runNode(ctx, n)
			resultsCh <- result{id: n.ID, obs: obs}
		}()
	}

	failDependents := func(failedID intent.ID) {
		for _, depID := range g.Dependents(failedID) {
			if _, ok := started[depID]; ok {
				continue
			}
			if _, ok := failed[depID]; ok {
				continue
			}
			started[depID] = struct{}{}
			failed[depID] = struct{}{}
			resultsCh <- result{id: depID, obs: Observation{
				Kind:  ObsRuntimeError,
				ID:    depID,
				Error: "upstream dependency failed",
			}}
		}
	}

	for _, n := range g.Ready(nil) {
		launch(n)
	}

	drained := 0
	for drained < total {
		select {
		case <-ctx.Done():
			wg.Wait()

			// wg.Wait returned once every launched goroutine stopped
			// writing to resultsCh; drain whatever they left behind
			// (buffered to total, so this never blocks) before
			// declaring the rest cancelled.
			for drainedMore := true; drainedMore; {
				select {
				case r := <-resultsCh:
					results = append(results, r.obs)
				default:
					drainedMore = false
				}
			}

			// Every node without a terminal observation yet — never
			// started, or started but still in flight when ctx fired —
			// resolves as a synthetic RuntimeError so each one still
			// gets exactly one observation (spec §4.3 rules 4 & 6, §5
			// Cancellation, §8 "Exactly-one-observation").
			seen := make(map[intent.ID]struct{}, len(results))
			for _, o := range results {
				seen[o.ID] = struct{}{}
			}
			for _, id := range g.NodeIDs() {
				if _, ok := seen[id]; ok {
					continue
				}
				results = append(results, Observation{Kind: ObsRuntimeError, ID: id, Error: "cancelled"})
			}
			return results, ctx.Err()
		case r := <-resultsCh:
			drained++
			mu.Lock()
			completed = append(completed, r.id)
			if observationFailed(r.obs) {
				failed[r.id] = struct{}{}
			}
			results = append(results, r.obs)

			if observationFailed(r.obs) {
				failDependents(r.id)
			} else if ctx.Err() == nil {
				for _, n := range g.Ready(completed) {
					if _, ok := started[n.ID]; ok {
						continue
					}
					launch(n)
				}
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return results, nil
}

func observationFailed(o Observation) bool {
	switch o.Kind {
	case ObsRuntimeError:
		return true
	case ObsToolCompleted:
		return o.ToolResult.Kind == ToolOutcomeError
	default:
		return false
	}
}

// runNode executes a single node, applying the per-intent execution rules
// (spec §4.3) and the configured timeout. It always returns a terminal
// Observation and never returns a zero value silently; a panic raised
// while it runs is recovered by Run's node goroutine and reported as a
// RuntimeError observation.
func (e *Executor) runNode(ctx context.Context, n intent.Node) Observation {
	e.metrics.started()
	ctx, span := tracer.Start(ctx, "executor.node", trace.WithAttributes(
		attribute.String("intent.id", n.ID.String()),
		attribute.String("intent.kind", n.Intent.Kind.String()),
	))
	defer span.End()

	timeout := e.cfg.DefaultTimeout
	if n.Intent.Kind == intent.KindCallTool && n.Intent.CallTool.TimeoutSecs > 0 {
		timeout = time.Duration(n.Intent.CallTool.TimeoutSecs) * time.Second
	}
	var cancel context.CancelFunc
	if n.Intent.Kind != intent.KindRequestApproval && n.Intent.Kind != intent.KindHalt {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	obs := e.dispatch(ctx, n)
	obs.DurationMS = time.Since(start).Milliseconds()
	e.metrics.completed(!observationFailed(obs))
	return obs
}

func (e *Executor) dispatch(ctx context.Context, n intent.Node) Observation {
	switch n.Intent.Kind {
	case intent.KindCallTool:
		return e.runTool(ctx, n.ID, *n.Intent.CallTool)
	case intent.KindRequestLLM:
		return e.runLLM(ctx, n.ID, *n.Intent.RequestLLM)
	case intent.KindRequestApproval:
		return e.runApproval(ctx, n.ID, *n.Intent.RequestApproval)
	case intent.KindSpawnWorker:
		return e.runSpawnWorker(ctx, n.ID, *n.Intent.SpawnWorker)
	case intent.KindEmitResponse:
		return e.runEmit(ctx, n.ID, n.Intent.EmitResponse)
	case intent.KindHalt:
		return Observation{Kind: ObsHalted, ID: n.ID, HaltReason: n.Intent.Halt}
	default:
		return Observation{Kind: ObsRuntimeError, ID: n.ID, Error: "unknown intent kind"}
	}
}

func (e *Executor) runTool(ctx context.Context, id intent.ID, call intent.ToolCall) Observation {
	if e.tools == nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: "no tool invoker configured"}
	}
	if err := e.registry.Validate(call.Name, call.Arguments); err != nil {
		return Observation{
			Kind: ObsToolCompleted,
			ID:   id,
			ToolResult: ToolOutcome{
				Kind:    ToolOutcomeError,
				Message: err.Error(),
				Code:    "invalid_arguments",
			},
		}
	}
	output, err := e.tools.InvokeTool(ctx, call)
	if err != nil {
		// Retry policy belongs to internal/retry, which wraps ToolInvoker;
		// the executor only records whether this particular failure was a
		// context deadline/cancellation, which retrying would not help.
		retryable := err != context.DeadlineExceeded && err != context.Canceled
		return Observation{
			Kind: ObsToolCompleted,
			ID:   id,
			ToolResult: ToolOutcome{
				Kind:      ToolOutcomeError,
				Message:   err.Error(),
				Retryable: retryable,
			},
		}
	}
	return Observation{
		Kind:       ObsToolCompleted,
		ID:         id,
		ToolResult: ToolOutcome{Kind: ToolOutcomeSuccess, Output: output},
	}
}

func (e *Executor) runLLM(ctx context.Context, id intent.ID, req intent.LLMRequest) Observation {
	if e.llm == nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: "no LLM client configured"}
	}
	content, usage, model, err := e.llm.CompleteLLM(ctx, req)
	if err != nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: err.Error()}
	}
	return Observation{
		Kind:      ObsLLMCompleted,
		ID:        id,
		LLMResult: LLMResult{Content: content, Usage: usage, Model: model},
	}
}

func (e *Executor) runApproval(ctx context.Context, id intent.ID, req intent.ApprovalRequest) Observation {
	if e.approvals == nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: "no approval waiter configured"}
	}
	granted, reason, err := e.approvals.WaitForApproval(ctx, req)
	if err != nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: err.Error()}
	}
	return Observation{Kind: ObsApprovalCompleted, ID: id, ApprovalGrant: granted, ApprovalNote: reason}
}

func (e *Executor) runSpawnWorker(ctx context.Context, id intent.ID, spec intent.WorkerSpec) Observation {
	if e.workers == nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: "no worker spawner configured"}
	}
	workerID, err := e.workers.SpawnWorker(ctx, spec)
	if err != nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: err.Error()}
	}
	return Observation{Kind: ObsWorkerSpawned, ID: id, WorkerID: workerID}
}

func (e *Executor) runEmit(ctx context.Context, id intent.ID, content string) Observation {
	if e.sink == nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: "no output sink configured"}
	}
	if err := e.sink.EmitResponse(ctx, content, false); err != nil {
		return Observation{Kind: ObsRuntimeError, ID: id, Error: err.Error()}
	}
	return Observation{Kind: ObsResponseEmitted, ID: id, EmittedText: content}
}
