package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/agentkernel/internal/intent"
)

type fakeTools struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	fail     map[string]bool
}

func (f *fakeTools) InvokeTool(ctx context.Context, call intent.ToolCall) (string, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxSeen, cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	shouldFail := f.fail != nil && f.fail[call.Name]
	f.mu.Unlock()
	if shouldFail {
		return "", errors.New("boom")
	}
	return "ok:" + call.Name, nil
}

type fakeSink struct {
	mu   sync.Mutex
	text []string
}

func (s *fakeSink) EmitResponse(ctx context.Context, content string, isPartial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = append(s.text, content)
	return nil
}

type fakeApprovals struct {
	grant bool
}

func (a *fakeApprovals) WaitForApproval(ctx context.Context, req intent.ApprovalRequest) (bool, string, error) {
	return a.grant, "", nil
}

func observationByID(obs []Observation, id intent.ID) (Observation, bool) {
	for _, o := range obs {
		if o.ID == id {
			return o, true
		}
	}
	return Observation{}, false
}

// TestParallelBatchRunsConcurrently covers spec §8 scenario 3: two
// independent CallTool nodes complete concurrently, both observed as
// successful.
func TestParallelBatchRunsConcurrently(t *testing.T) {
	tools := &fakeTools{delay: 20 * time.Millisecond}
	ex := New(DefaultConfig(), nil, tools, nil, nil, nil, nil)

	idA := intent.ID{Step: 1, Local: 0}
	idB := intent.ID{Step: 1, Local: 1}
	g := intent.NewGraph()
	g.Add(intent.NewNode(idA, intent.NewCallTool(intent.ToolCall{Name: "read_file"})))
	g.Add(intent.NewNode(idB, intent.NewCallTool(intent.ToolCall{Name: "read_file"})))

	obs, err := ex.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if atomic.LoadInt32(&tools.maxSeen) < 2 {
		t.Fatalf("expected both tool calls to run concurrently, max concurrent seen=%d", tools.maxSeen)
	}
	oa, ok := observationByID(obs, idA)
	if !ok || oa.Kind != ObsToolCompleted || oa.ToolResult.Kind != ToolOutcomeSuccess {
		t.Fatalf("unexpected observation for A: %+v", oa)
	}
}

// TestCyclicGraphRejectedBeforeExecution covers spec §8 scenario 4: a
// fan-in graph with a dependency cycle is rejected by Validate before any
// node runs.
func TestCyclicGraphRejectedBeforeExecution(t *testing.T) {
	tools := &fakeTools{}
	ex := New(DefaultConfig(), nil, tools, nil, nil, nil, nil)

	idA := intent.ID{Step: 1, Local: 0}
	idB := intent.ID{Step: 1, Local: 1}
	g := intent.NewGraph()
	g.Add(intent.Node{ID: idA, Intent: intent.NewCallTool(intent.ToolCall{Name: "a"}), Dependencies: []intent.ID{idB}})
	g.Add(intent.Node{ID: idB, Intent: intent.NewCallTool(intent.ToolCall{Name: "b"}), Dependencies: []intent.ID{idA}})

	obs, err := ex.Run(context.Background(), g)
	if err == nil {
		t.Fatalf("expected a cycle error")
	}
	var cycleErr *intent.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %T: %v", err, err)
	}
	if obs != nil {
		t.Fatalf("expected no observations for a rejected graph, got %v", obs)
	}
	if atomic.LoadInt32(&tools.inFlight) != 0 {
		t.Fatalf("expected no tool invocation for a rejected graph")
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	ex := New(DefaultConfig(), nil, &fakeTools{}, nil, nil, nil, nil)
	id := intent.ID{Step: 1, Local: 0}
	missing := intent.ID{Step: 0, Local: 9}
	g := intent.NewGraph()
	g.Add(intent.Node{ID: id, Intent: intent.NewCallTool(intent.ToolCall{Name: "a"}), Dependencies: []intent.ID{missing}})

	_, err := ex.Run(context.Background(), g)
	var udErr *intent.UnknownDependencyError
	if !errors.As(err, &udErr) {
		t.Fatalf("expected UnknownDependencyError, got %v", err)
	}
}

// TestDependencyFailurePropagates: when a root tool call fails, its
// dependent never executes and instead receives a synthetic RuntimeError
// observation.
func TestDependencyFailurePropagates(t *testing.T) {
	tools := &fakeTools{fail: map[string]bool{"flaky": true}}
	ex := New(DefaultConfig(), nil, tools, nil, nil, nil, nil)

	root := intent.ID{Step: 1, Local: 0}
	dep := intent.ID{Step: 1, Local: 1}
	g := intent.NewGraph()
	g.Add(intent.NewNode(root, intent.NewCallTool(intent.ToolCall{Name: "flaky"})))
	g.Add(intent.Node{ID: dep, Intent: intent.NewCallTool(intent.ToolCall{Name: "downstream"}), Dependencies: []intent.ID{root}})

	obs, err := ex.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rootObs, _ := observationByID(obs, root)
	if rootObs.ToolResult.Kind != ToolOutcomeError {
		t.Fatalf("expected root to fail, got %+v", rootObs)
	}
	depObs, ok := observationByID(obs, dep)
	if !ok {
		t.Fatalf("expected an observation for the dependent node")
	}
	if depObs.Kind != ObsRuntimeError {
		t.Fatalf("expected dependent to be reported as RuntimeError, got %+v", depObs)
	}
}

func TestApprovalAndEmitAndHalt(t *testing.T) {
	approvals := &fakeApprovals{grant: true}
	sink := &fakeSink{}
	ex := New(DefaultConfig(), nil, nil, nil, approvals, nil, sink)

	idApproval := intent.ID{Step: 2, Local: 0}
	idEmit := intent.ID{Step: 2, Local: 1}
	idHalt := intent.ID{Step: 2, Local: 2}
	g := intent.NewGraph()
	g.Add(intent.NewNode(idApproval, intent.NewRequestApproval(intent.ApprovalRequest{Tool: "shell"})))
	g.Add(intent.NewNode(idEmit, intent.NewEmitResponse("done")))
	g.Add(intent.NewNode(idHalt, intent.NewHalt(intent.ExitReason{Kind: intent.ExitCompleted})))

	obs, err := ex.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approvalObs, _ := observationByID(obs, idApproval)
	if approvalObs.Kind != ObsApprovalCompleted || !approvalObs.ApprovalGrant {
		t.Fatalf("expected granted approval observation, got %+v", approvalObs)
	}
	emitObs, _ := observationByID(obs, idEmit)
	if emitObs.Kind != ObsResponseEmitted || emitObs.EmittedText != "done" {
		t.Fatalf("unexpected emit observation: %+v", emitObs)
	}
	haltObs, _ := observationByID(obs, idHalt)
	if haltObs.Kind != ObsHalted || haltObs.HaltReason.Kind != intent.ExitCompleted {
		t.Fatalf("unexpected halt observation: %+v", haltObs)
	}
	if len(sink.text) != 1 || sink.text[0] != "done" {
		t.Fatalf("expected the sink to have received the emitted text, got %v", sink.text)
	}
}

func TestMissingCollaboratorProducesRuntimeError(t *testing.T) {
	ex := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	id := intent.ID{Step: 1, Local: 0}
	g := intent.Single(id, intent.NewCallTool(intent.ToolCall{Name: "noop"}))

	obs, err := ex.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o, _ := observationByID(obs, id)
	if o.Kind != ObsRuntimeError {
		t.Fatalf("expected RuntimeError without a ToolInvoker, got %+v", o)
	}
}

func TestToolArgumentsValidatedAgainstSchema(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolDescriptor{
		Name:             "read_file",
		ParametersSchema: []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
	})
	ex := New(DefaultConfig(), registry, &fakeTools{}, nil, nil, nil, nil)

	id := intent.ID{Step: 1, Local: 0}
	g := intent.Single(id, intent.NewCallTool(intent.ToolCall{Name: "read_file", Arguments: []byte(`{}`)}))

	obs, err := ex.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o, _ := observationByID(obs, id)
	if o.Kind != ObsToolCompleted || o.ToolResult.Kind != ToolOutcomeError || o.ToolResult.Code != "invalid_arguments" {
		t.Fatalf("expected a schema-validation failure, got %+v", o)
	}
}

func TestContextCancellationStopsExecution(t *testing.T) {
	tools := &fakeTools{delay: 200 * time.Millisecond}
	ex := New(DefaultConfig(), nil, tools, nil, nil, nil, nil)

	id := intent.ID{Step: 1, Local: 0}
	g := intent.Single(id, intent.NewCallTool(intent.ToolCall{Name: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	obs, err := ex.Run(ctx, g)
	if err == nil {
		t.Fatalf("expected a context error")
	}
	// Exactly-one-observation (spec §8) holds even on cancellation: the
	// single in-flight node still resolves, whether as its own
	// ctx-aborted ToolCompleted or a synthetic cancelled RuntimeError.
	if len(obs) != 1 {
		t.Fatalf("expected exactly one observation, got %d: %+v", len(obs), obs)
	}
	if o, ok := observationByID(obs, id); !ok {
		t.Fatalf("expected an observation for %s, got %+v", id, obs)
	} else if !observationFailed(o) {
		t.Fatalf("expected the cancelled node to fail, got %+v", o)
	}
}

// TestContextCancellationResolvesNeverStartedNodes covers spec §4.3 rule
// 4 / §5's Cancellation section / §8's Exactly-one-observation property
// for nodes that never even got a goroutine: with concurrency capped at
// 1 and three independent slow nodes, two of them are still waiting on
// the semaphore when ctx fires and must still resolve as RuntimeError
// {error:"cancelled"}, not be silently dropped.
func TestContextCancellationResolvesNeverStartedNodes(t *testing.T) {
	tools := &fakeTools{delay: 200 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	ex := New(cfg, nil, tools, nil, nil, nil, nil)

	b := intent.BuilderAtStep(1)
	ids := []intent.ID{
		b.Add(intent.NewCallTool(intent.ToolCall{Name: "slow-0"})),
		b.Add(intent.NewCallTool(intent.ToolCall{Name: "slow-1"})),
		b.Add(intent.NewCallTool(intent.ToolCall{Name: "slow-2"})),
	}
	g := b.Build()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	obs, err := ex.Run(ctx, g)
	if err == nil {
		t.Fatalf("expected a context error")
	}
	if len(obs) != len(ids) {
		t.Fatalf("expected one observation per node (%d), got %d: %+v", len(ids), len(obs), obs)
	}
	for _, id := range ids {
		o, ok := observationByID(obs, id)
		if !ok {
			t.Fatalf("node %s never got an observation", id)
		}
		if !observationFailed(o) {
			t.Fatalf("expected node %s to fail on cancellation, got %+v", id, o)
		}
	}
}
