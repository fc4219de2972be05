package intent

import "encoding/json"

// Kind discriminates the tagged-variant Intent type.
type Kind int

const (
	KindCallTool Kind = iota
	KindRequestLLM
	KindRequestApproval
	KindSpawnWorker
	KindEmitResponse
	KindHalt
)

func (k Kind) String() string {
	switch k {
	case KindCallTool:
		return "CallTool"
	case KindRequestLLM:
		return "RequestLLM"
	case KindRequestApproval:
		return "RequestApproval"
	case KindSpawnWorker:
		return "SpawnWorker"
	case KindEmitResponse:
		return "EmitResponse"
	case KindHalt:
		return "Halt"
	default:
		return "Unknown"
	}
}

// ToolCall is the CallTool payload.
type ToolCall struct {
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments"`
	WorkingDir  string          `json:"working_dir,omitempty"`
	TimeoutSecs int             `json:"timeout_secs,omitempty"`
}

// LLMContext is the conversational context attached to an LLMRequest.
type LLMContext struct {
	System      string `json:"system,omitempty"`
	Scratchpad  string `json:"scratchpad"`
}

// LLMRequest is the RequestLLM payload.
type LLMRequest struct {
	Context        LLMContext `json:"context"`
	MaxTokens      int        `json:"max_tokens,omitempty"`
	Temperature    float64    `json:"temperature,omitempty"`
	Model          string     `json:"model,omitempty"`
	Stream         bool       `json:"stream"`
	ResponseFormat string     `json:"response_format,omitempty"`
}

// ApprovalRequest is the RequestApproval payload.
type ApprovalRequest struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Reason string          `json:"reason,omitempty"`
}

// WorkerSpec is the SpawnWorker payload.
type WorkerSpec struct {
	Objective    string   `json:"objective"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	DeniedTools  []string `json:"denied_tools,omitempty"`
}

// ExitReasonKind discriminates ExitReason.
type ExitReasonKind int

const (
	ExitCompleted ExitReasonKind = iota
	ExitStepLimit
	ExitUserRequest
	ExitError
	ExitInterrupted
)

// ExitReason is the Halt payload. Message is only meaningful when Kind ==
// ExitError.
type ExitReason struct {
	Kind    ExitReasonKind
	Message string
}

func (e ExitReason) String() string {
	switch e.Kind {
	case ExitCompleted:
		return "Completed"
	case ExitStepLimit:
		return "StepLimit"
	case ExitUserRequest:
		return "UserRequest"
	case ExitError:
		return "Error(" + e.Message + ")"
	case ExitInterrupted:
		return "Interrupted"
	default:
		return "Unknown"
	}
}

// Intent is the kernel's sole output vocabulary: a request for an effect
// the executor must perform. Exactly one of the payload fields is
// meaningful, selected by Kind — a tagged variant, not a set of
// implementations of a common interface (no dynamic dispatch is needed:
// the executor switches on Kind once per node).
type Intent struct {
	Kind Kind

	CallTool        *ToolCall
	RequestLLM      *LLMRequest
	RequestApproval *ApprovalRequest
	SpawnWorker     *WorkerSpec
	EmitResponse    string
	Halt            ExitReason
}

// NewCallTool builds a CallTool intent.
func NewCallTool(c ToolCall) Intent { return Intent{Kind: KindCallTool, CallTool: &c} }

// NewRequestLLM builds a RequestLLM intent.
func NewRequestLLM(r LLMRequest) Intent { return Intent{Kind: KindRequestLLM, RequestLLM: &r} }

// NewRequestApproval builds a RequestApproval intent.
func NewRequestApproval(a ApprovalRequest) Intent {
	return Intent{Kind: KindRequestApproval, RequestApproval: &a}
}

// NewSpawnWorker builds a SpawnWorker intent.
func NewSpawnWorker(w WorkerSpec) Intent { return Intent{Kind: KindSpawnWorker, SpawnWorker: &w} }

// NewEmitResponse builds an EmitResponse intent.
func NewEmitResponse(text string) Intent { return Intent{Kind: KindEmitResponse, EmitResponse: text} }

// NewHalt builds a Halt intent.
func NewHalt(reason ExitReason) Intent { return Intent{Kind: KindHalt, Halt: reason} }

// Node wraps an Intent with its id and the set of node ids it depends on
// within the same graph.
type Node struct {
	ID           ID
	Intent       Intent
	Dependencies []ID
}

// NewNode builds a dependency-free node.
func NewNode(id ID, it Intent) Node {
	return Node{ID: id, Intent: it}
}

// HasNoDependencies reports whether the node is a graph root.
func (n Node) HasNoDependencies() bool {
	return len(n.Dependencies) == 0
}
