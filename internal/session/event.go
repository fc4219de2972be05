package session

import "github.com/haasonsaas/agentkernel/internal/intent"

// EventKind discriminates Event, mirroring the teacher's ResponseChunk
// variants (internal/agent/loop.go) but carrying the kernel's own
// vocabulary instead of a provider SDK's.
type EventKind int

const (
	EventText EventKind = iota
	EventResponseComplete
	EventThinking
	EventToolStarted
	EventToolResult
	EventApprovalRequested
	EventWorkerSpawned
	EventWorkerResult
	EventWorkerStuck
	EventStatus
	EventContextPruned
	EventHalted
	EventError
)

// Event is the one thing a Driver ever sends out. Exactly one payload
// field is meaningful, selected by Kind — the same tagged-variant
// discipline the kernel's own types use (spec §9).
type Event struct {
	Kind EventKind

	// Text carries an EmitResponse's final answer. IsPartial is always
	// false here: the kernel hands the whole message back in one shot,
	// it does not stream deltas the way the teacher's provider
	// integration did.
	Text      string
	IsPartial bool

	// ToolStarted / ToolResult
	ToolName string
	ToolArgs string
	ToolOK   bool
	ToolOut  string
	ToolErr  string

	// ApprovalRequested
	ApprovalID     string
	ApprovalTool   string
	ApprovalArgs   string
	ApprovalReason string

	// WorkerSpawned / WorkerResult / WorkerStuck
	WorkerID     string
	WorkerResult string
	WorkerErr    string
	StuckIdleMS  int64

	// Status carries a free-form informational message (e.g. a step
	// budget extension notice).
	Status string

	// ContextPruned mirrors spec §4.5/§4.6: emitted whenever
	// history.Manager.Prune actually archives a segment.
	PrunedMessageCount int
	PrunedTokensSaved  int
	PrunedSummary      string

	// Halted carries the terminal reason when a session ends for good
	// (anything other than ExitStepLimit on its first occurrence, which
	// the Driver absorbs via the budget extension instead of surfacing).
	Halted *intent.ExitReason

	// Err carries a runtime error that does not halt the session outright
	// (e.g. a single failed retry-exhausted LLM call surfaced to the
	// host for visibility).
	Err error
}
