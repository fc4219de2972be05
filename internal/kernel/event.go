package kernel

import "github.com/haasonsaas/agentkernel/pkg/models"

// EventKind discriminates the tagged-variant InputEvent.
type EventKind int

const (
	EventUserMessage EventKind = iota
	EventLLMResponse
	EventToolResult
	EventApprovalResult
	EventWorkerResult
	EventRuntimeError
	EventTick
	EventShutdown
)

func (k EventKind) String() string {
	switch k {
	case EventUserMessage:
		return "UserMessage"
	case EventLLMResponse:
		return "LLMResponse"
	case EventToolResult:
		return "ToolResult"
	case EventApprovalResult:
		return "ApprovalResult"
	case EventWorkerResult:
		return "WorkerResult"
	case EventRuntimeError:
		return "RuntimeError"
	case EventTick:
		return "Tick"
	case EventShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ToolOutcomeKind discriminates ToolResult.Result.
type ToolOutcomeKind int

const (
	ToolSuccess ToolOutcomeKind = iota
	ToolError
	ToolCancelled
)

// ToolOutcome is the terminal result of one tool invocation as seen by
// the kernel.
type ToolOutcome struct {
	Kind      ToolOutcomeKind
	Output    string // Success
	Message   string // Error
	Retryable bool   // Error
}

// LLMResponsePayload is the EventLLMResponse payload.
type LLMResponsePayload struct {
	Content string
	Usage   models.Usage
	Model   string
}

// ToolResultPayload is the EventToolResult payload.
type ToolResultPayload struct {
	Tool   string
	Result ToolOutcome
}

// ApprovalResultPayload is the EventApprovalResult payload.
type ApprovalResultPayload struct {
	Granted bool
	Reason  string // populated when Granted is false
}

// WorkerResultPayload is the EventWorkerResult payload.
type WorkerResultPayload struct {
	ID  string
	Ok  *string
	Err *string
}

// StuckWorker describes a worker with no activity for >= the stuck
// threshold, with its exact idle duration, and can be attached to a Tick
// via NewTick. Step does not read it: a Tick yields no intent whether or
// not it carries one. The session's heartbeat sends NewTick(nil) and
// reports stuck workers to the host as EventWorkerStuck events instead.
type StuckWorker struct {
	WorkerID string
	IdleFor  int64 // milliseconds
}

// InputEvent is the kernel's sole input vocabulary, fed in by the session
// driver. Exactly one payload field is meaningful, selected by Kind.
type InputEvent struct {
	Kind EventKind

	UserMessage     string
	LLMResponse     LLMResponsePayload
	ToolResult      ToolResultPayload
	ApprovalResult  ApprovalResultPayload
	WorkerResult    WorkerResultPayload
	RuntimeError    string
	StuckWorkerInfo *StuckWorker // optionally attached to EventTick
}

// NewUserMessage builds a UserMessage event.
func NewUserMessage(text string) InputEvent {
	return InputEvent{Kind: EventUserMessage, UserMessage: text}
}

// NewLLMResponse builds an LLMResponse event.
func NewLLMResponse(p LLMResponsePayload) InputEvent {
	return InputEvent{Kind: EventLLMResponse, LLMResponse: p}
}

// NewToolResult builds a ToolResult event.
func NewToolResult(p ToolResultPayload) InputEvent {
	return InputEvent{Kind: EventToolResult, ToolResult: p}
}

// NewApprovalResult builds an ApprovalResult event.
func NewApprovalResult(p ApprovalResultPayload) InputEvent {
	return InputEvent{Kind: EventApprovalResult, ApprovalResult: p}
}

// NewWorkerResult builds a WorkerResult event.
func NewWorkerResult(p WorkerResultPayload) InputEvent {
	return InputEvent{Kind: EventWorkerResult, WorkerResult: p}
}

// NewRuntimeError builds a RuntimeError event.
func NewRuntimeError(msg string) InputEvent {
	return InputEvent{Kind: EventRuntimeError, RuntimeError: msg}
}

// NewTick builds a Tick event, optionally describing a stuck worker.
func NewTick(stuck *StuckWorker) InputEvent {
	return InputEvent{Kind: EventTick, StuckWorkerInfo: stuck}
}

// NewShutdown builds a Shutdown event.
func NewShutdown() InputEvent {
	return InputEvent{Kind: EventShutdown}
}
