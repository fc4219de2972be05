package shortkey

// ResponseKind discriminates the tagged-variant ParsedResponse, selected
// by the strict precedence order in Parse: FinalAnswer beats Remember
// beats RememberAndCall beats ConfirmRequest beats ToolCalls beats a
// thought-only FinalAnswer beats Malformed, except that "r" and "a"
// together with "c" yield ConfirmRequest rather than RememberAndCall.
type ResponseKind int

const (
	KindFinalAnswer ResponseKind = iota
	KindRemember
	KindRememberAndCall
	KindConfirmRequest
	KindToolCalls
	KindMalformed
)

func (k ResponseKind) String() string {
	switch k {
	case KindFinalAnswer:
		return "FinalAnswer"
	case KindRemember:
		return "Remember"
	case KindRememberAndCall:
		return "RememberAndCall"
	case KindConfirmRequest:
		return "ConfirmRequest"
	case KindToolCalls:
		return "ToolCalls"
	case KindMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// Response is the parser's tagged-variant output. Only the fields for Kind
// are meaningful, except PendingRemember: the kernel schedules a memory
// intent whenever PendingRemember is non-nil, regardless of which Kind won
// precedence — an "r" action note always fires even when "f" wins (see the
// budget-extension-adjacent open question on Remember+FinalAnswer
// ordering: the memory side effect is never silently dropped by
// precedence).
type Response struct {
	Kind ResponseKind

	FinalAnswerText string
	RememberContent string
	NextAction      *ToolCall // Remember.next_action, currently never populated
	Tool            ToolCall  // RememberAndCall.tool / ConfirmRequest.tool
	Thought         string    // ConfirmRequest.thought
	ToolCalls       []ToolCall

	MalformedError string
	MalformedRaw   string

	// PendingRemember carries the batch's "r" content independent of which
	// variant won precedence, so a FinalAnswer response can still carry a
	// memory side effect for the kernel to schedule ahead of EmitResponse.
	PendingRemember *string
}
