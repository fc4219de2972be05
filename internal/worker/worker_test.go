package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// fakeLLM answers each CompleteLLM call with the next scripted response,
// looping the final one if the script runs out — the same fixed-script
// fake the reference executor tests use for LLMClient.
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

func TestWorkerFinalAnswerEndsRun(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"f":"done researching"}`}}
	w := newWorker("w1", intent.WorkerSpec{Objective: "research the topic"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, DefaultConfig())

	result, err := w.run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done researching" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestWorkerRunsAllowedToolThenAnswers(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"a":"ls","i":{}}`,
		`{"f":"listed files"}`,
	}}
	w := newWorker("w2", intent.WorkerSpec{Objective: "list files"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, DefaultConfig())

	result, err := w.run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "listed files" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestWorkerForbiddenToolFailsRun(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"a":"sudo","i":{"cmd":"rm -rf /"}}`}}
	w := newWorker("w3", intent.WorkerSpec{Objective: "do something destructive"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, DefaultConfig())

	_, err := w.run(context.Background())
	if err == nil {
		t.Fatalf("expected an error for a forbidden command")
	}
}

func TestWorkerRestrictedCommandEscalates(t *testing.T) {
	esc := approval.NewEscalator(4)
	defer esc.Close()

	llm := &fakeLLM{responses: []string{
		`{"a":"deploy","i":{}}`,
		`{"f":"deployed"}`,
	}}
	w := newWorker("w4", intent.WorkerSpec{Objective: "deploy the service"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), esc, DefaultConfig())

	go func() {
		req, err := esc.Next(context.Background())
		if err != nil {
			return
		}
		esc.Resolve(req, approval.EscalationResponse{Approved: true})
	}()

	result, err := w.run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "deployed" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestWorkerRestrictedCommandDeniedFails(t *testing.T) {
	esc := approval.NewEscalator(4)
	defer esc.Close()

	llm := &fakeLLM{responses: []string{`{"a":"deploy","i":{}}`}}
	w := newWorker("w5", intent.WorkerSpec{Objective: "deploy the service"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), esc, DefaultConfig())

	go func() {
		req, err := esc.Next(context.Background())
		if err != nil {
			return
		}
		esc.Resolve(req, approval.EscalationResponse{Approved: false, Reason: "not now"})
	}()

	_, err := w.run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not now") {
		t.Fatalf("expected a denial error mentioning the reason, got %v", err)
	}
}

func TestWorkerAllowedToolsScopeRejectsOutOfScope(t *testing.T) {
	// "cat" is Allowed by the default WorkerPolicy itself, so this
	// specifically exercises the WorkerSpec-level AllowedTools scope
	// rather than the Restricted/Forbidden classifier.
	llm := &fakeLLM{responses: []string{`{"a":"cat","i":{"path":"x"}}`}}
	spec := intent.WorkerSpec{Objective: "read a file", AllowedTools: []string{"ls"}}
	w := newWorker("w6", spec, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, DefaultConfig())

	_, err := w.run(context.Background())
	if err == nil {
		t.Fatalf("expected an error for a tool outside AllowedTools")
	}
}

func TestWorkerMayNotSpawnWorkers(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"a":"spawn_worker","i":{"objective":"nested"}}`}}
	w := newWorker("w7", intent.WorkerSpec{Objective: "try to nest"}, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, DefaultConfig())

	_, err := w.run(context.Background())
	if err == nil {
		t.Fatalf("expected an error since workers cannot spawn workers")
	}
}

func TestManagerSpawnRespectsMaxActive(t *testing.T) {
	block := make(chan struct{})
	llm := &blockingLLM{unblock: block}
	cfg := Config{MaxActive: 1, EscalationTimeout: time.Second, ApprovalMode: EscalateToMain}
	m := NewManager(cfg, llm, &fakeTools{}, approval.DefaultWorkerPolicy(), nil, nil, nil)

	id1, err := m.SpawnWorker(context.Background(), intent.WorkerSpec{Objective: "first"})
	if err != nil {
		t.Fatalf("unexpected error spawning first worker: %v", err)
	}
	if id1 == "" {
		t.Fatalf("expected a non-empty worker id")
	}

	if _, err := m.SpawnWorker(context.Background(), intent.WorkerSpec{Objective: "second"}); err == nil {
		t.Fatalf("expected max-active rejection for a second concurrent worker")
	}

	close(block)

	deadline := time.After(2 * time.Second)
	for m.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for worker to finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	job, ok := m.Get(id1)
	if !ok {
		t.Fatalf("expected job %s to be tracked", id1)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("expected job to complete, got status=%v err=%q", job.Status, job.Err)
	}
}

// blockingLLM blocks its first CompleteLLM call until unblock is closed,
// then answers with a final response — used to hold a worker "running"
// long enough to exercise the concurrency cap.
type blockingLLM struct {
	unblock chan struct{}
}

func (b *blockingLLM) CompleteLLM(ctx context.Context, req intent.LLMRequest) (string, executor.Usage, string, error) {
	<-b.unblock
	return `{"f":"done"}`, executor.Usage{}, "test-model", nil
}
