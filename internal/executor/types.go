// Package executor implements the Intent DAG executor: a concurrent,
// dependency-ordered scheduler that runs the nodes of one intent.Graph,
// honoring per-intent approval, cancellation, and timeout, and produces
// exactly one terminal Observation per node.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/agentkernel/internal/intent"
)

// ToolInvoker executes a single tool call. Implementations live outside
// the core (the concrete tool adapters are an explicit Non-goal); the
// executor only depends on this interface.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, call intent.ToolCall) (output string, err error)
}

// LLMClient performs one LLM request. The concrete HTTP client is an
// explicit Non-goal; only this adapter interface is in scope.
type LLMClient interface {
	CompleteLLM(ctx context.Context, req intent.LLMRequest) (content string, usage Usage, model string, err error)
}

// Usage mirrors pkg/models.Usage without importing it, so this package
// has no dependency on chat-message plumbing.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ApprovalWaiter surfaces a RequestApproval intent to the session and
// blocks until a decision or ctx is cancelled. Auto-approved outcomes may
// be returned synchronously when policy permits (spec §4.3).
type ApprovalWaiter interface {
	WaitForApproval(ctx context.Context, req intent.ApprovalRequest) (granted bool, reason string, err error)
}

// WorkerSpawner registers a worker job and returns its id immediately;
// the job's eventual result re-enters the session as an InputEvent, not
// as an observation of the SpawnWorker intent (spec §4.3).
type WorkerSpawner interface {
	SpawnWorker(ctx context.Context, spec intent.WorkerSpec) (workerID string, err error)
}

// OutputSink receives EmitResponse content.
type OutputSink interface {
	EmitResponse(ctx context.Context, content string, isPartial bool) error
}

// ToolDescriptor describes one registered tool, including its JSON Schema
// for argument validation (spec §6: "Tool adapter ... parameters_schema").
type ToolDescriptor struct {
	Name             string
	ParametersSchema json.RawMessage
}

// Config bounds the executor's concurrency and default per-intent
// timeout.
type Config struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
}

// DefaultConfig returns max_concurrent_intents=4 (spec §6) and a 30s
// default per-intent timeout.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4, DefaultTimeout: 30 * time.Second}
}

// ObservationKind discriminates the tagged-variant Observation.
type ObservationKind int

const (
	ObsToolCompleted ObservationKind = iota
	ObsLLMCompleted
	ObsApprovalCompleted
	ObsWorkerSpawned
	ObsResponseEmitted
	ObsHalted
	ObsRuntimeError
)

func (k ObservationKind) String() string {
	switch k {
	case ObsToolCompleted:
		return "ToolCompleted"
	case ObsLLMCompleted:
		return "LLMCompleted"
	case ObsApprovalCompleted:
		return "ApprovalCompleted"
	case ObsWorkerSpawned:
		return "WorkerSpawned"
	case ObsResponseEmitted:
		return "ResponseEmitted"
	case ObsHalted:
		return "Halted"
	case ObsRuntimeError:
		return "RuntimeError"
	default:
		return "Unknown"
	}
}

// ToolOutcomeKind discriminates ToolCompleted.Result.
type ToolOutcomeKind int

const (
	ToolOutcomeSuccess ToolOutcomeKind = iota
	ToolOutcomeError
)

// ToolOutcome is the terminal result of one CallTool intent.
type ToolOutcome struct {
	Kind      ToolOutcomeKind
	Output    string
	Message   string
	Code      string
	Retryable bool
}

// LLMResult is the terminal result of one RequestLLM intent.
type LLMResult struct {
	Content string
	Usage   Usage
	Model   string
}

// Observation is the executor's sole output vocabulary, one per node of
// a submitted graph.
type Observation struct {
	Kind ObservationKind
	ID   intent.ID

	ToolResult    ToolOutcome
	DurationMS    int64
	LLMResult     LLMResult
	ApprovalGrant bool
	ApprovalNote  string
	WorkerID      string
	EmittedText   string
	IsPartial     bool
	HaltReason    intent.ExitReason
	Error         string
}
