package session

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// fakeLLM answers each CompleteLLM call with the next scripted response,
// looping the final one if the script runs out — the same fixed-script
// fake internal/worker's tests use for LLMClient.
type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) CompleteLLM(ctx context.Context, req intent.LLMRequest) (string, executor.Usage, string, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], executor.Usage{TotalTokens: 10}, "test-model", nil
}

type fakeTools struct {
	outputs map[string]string
}

func (f *fakeTools) InvokeTool(ctx context.Context, call intent.ToolCall) (string, error) {
	if out, ok := f.outputs[call.Name]; ok {
		return out, nil
	}
	return "ok:" + call.Name, nil
}

func newTestDriver(t *testing.T, llm *fakeLLM, tools *fakeTools) *Driver {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	d := NewDriver(cfg, llm, tools, nil)
	return d
}

func drainUntil(t *testing.T, events <-chan Event, want EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", want)
		}
	}
}

// TestSimpleChat exercises spec §8 scenario 1: UserMessage -> RequestLLM,
// then a FinalAnswer LLMResponse -> EmitResponse.
func TestSimpleChat(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"f":"hello"}`}}
	d := newTestDriver(t, llm, &fakeTools{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	if err := d.SubmitUserMessage("hi"); err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}

	ev := drainUntil(t, d.Events(), EventText, 2*time.Second)
	if ev.Text != "hello" {
		t.Fatalf("unexpected final answer: %q", ev.Text)
	}
	drainUntil(t, d.Events(), EventResponseComplete, 2*time.Second)
}

// TestToolCallRequiresApproval exercises spec §8 scenario 2: a "shell"
// tool call is flagged by the default approval policy, the Driver
// surfaces EventApprovalRequested, and granting it replays the tool call
// before the next RequestLLM.
func TestToolCallRequiresApproval(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"t":"list","a":"shell","i":{"command":"ls"}}`,
		`{"f":"done"}`,
	}}
	tools := &fakeTools{outputs: map[string]string{"shell": "out"}}
	d := newTestDriver(t, llm, tools)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	if err := d.SubmitUserMessage("list files"); err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}

	approvalEv := drainUntil(t, d.Events(), EventApprovalRequested, 2*time.Second)
	if approvalEv.ApprovalTool != "shell" {
		t.Fatalf("expected approval request for shell, got %q", approvalEv.ApprovalTool)
	}

	d.ResolveApproval(approvalEv.ApprovalID, true, "")

	toolEv := drainUntil(t, d.Events(), EventToolResult, 2*time.Second)
	if !toolEv.ToolOK || toolEv.ToolOut != "out" {
		t.Fatalf("unexpected tool result: %+v", toolEv)
	}

	final := drainUntil(t, d.Events(), EventText, 2*time.Second)
	if final.Text != "done" {
		t.Fatalf("unexpected final answer: %q", final.Text)
	}
}

// TestApprovalDenialIncrementsRejections exercises spec §4.2's Denied
// branch: rejection_count increments and the kernel re-prompts rather
// than running the tool.
func TestApprovalDenialIncrementsRejections(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"a":"shell","i":{"command":"rm -rf /tmp/x"}}`,
		`{"f":"ok, skipping"}`,
	}}
	d := newTestDriver(t, llm, &fakeTools{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	if err := d.SubmitUserMessage("clean up"); err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}

	approvalEv := drainUntil(t, d.Events(), EventApprovalRequested, 2*time.Second)
	d.ResolveApproval(approvalEv.ApprovalID, false, "too risky")

	final := drainUntil(t, d.Events(), EventText, 2*time.Second)
	if final.Text != "ok, skipping" {
		t.Fatalf("unexpected final answer: %q", final.Text)
	}

	d.mu.Lock()
	rejections := d.state.RejectionCount
	d.mu.Unlock()
	if rejections != 1 {
		t.Fatalf("expected rejection_count=1, got %d", rejections)
	}
}

// TestContextCancellationDeliversShutdown exercises spec.md:162/216: when
// the driver's context is cancelled, runLoop must still step the kernel
// with Shutdown rather than exiting silently, so the host always sees a
// terminal EventHalted.
func TestContextCancellationDeliversShutdown(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"f":"hello"}`}}
	d := newTestDriver(t, llm, &fakeTools{})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	ev := drainUntil(t, d.Events(), EventHalted, 2*time.Second)
	if ev.Halted == nil || ev.Halted.Kind != intent.ExitUserRequest {
		t.Fatalf("expected ExitUserRequest halt on cancellation, got %+v", ev.Halted)
	}
}
