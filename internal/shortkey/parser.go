package shortkey

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that no extraction strategy yielded a Short-Key
// action. Raw carries the original input for diagnostics.
type ParseError struct {
	Message string
	Raw     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("shortkey: %s", e.Message)
}

// Parse runs the four extraction strategies in order (raw JSON, fenced
// code blocks, brace-balance scan, each retried with newline
// normalization) and, on success, reduces the resulting batch of Actions
// to a single Response following the strict precedence order. It never
// returns a nil error with a zero-value Response.
func Parse(content string) (Response, error) {
	actions, err := parseActions(content)
	if err != nil {
		return Response{}, err
	}
	return reduceResponse(actions, content), nil
}

// parseActions applies the extraction pipeline and returns the batch of
// Actions found, or an error if every strategy failed.
func parseActions(content string) ([]Action, error) {
	trimmed := strings.TrimSpace(content)

	// 1. Parse the whole trimmed input as a JSON array or object.
	if actions, ok := parseBatchOrSingle(trimmed); ok {
		return actions, nil
	}

	// 2. Fenced code blocks labeled json (or unlabeled).
	for _, block := range extractCodeBlocks(content, "json") {
		if actions, ok := parseBatchOrSingle(block); ok {
			return actions, nil
		}
	}

	// 3. Brace-balance scan for top-level {...} / [...] substrings.
	for _, candidate := range extractJSONObjects(content) {
		if actions, ok := parseBatchOrSingle(candidate); ok {
			return actions, nil
		}
	}

	return nil, &ParseError{Message: "failed to parse Short-Key JSON from model response", Raw: content}
}

// parseBatchOrSingle tries candidate as a JSON array of Actions, then as a
// single Action, then retries both after normalizing unescaped newlines
// inside string literals.
func parseBatchOrSingle(candidate string) ([]Action, bool) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return nil, false
	}

	var batch []Action
	if json.Unmarshal([]byte(trimmed), &batch) == nil {
		return batch, true
	}

	var single Action
	if json.Unmarshal([]byte(trimmed), &single) == nil {
		return []Action{single}, true
	}

	normalized := escapeUnescapedNewlinesInJSONStrings(trimmed)
	var normBatch []Action
	if json.Unmarshal([]byte(normalized), &normBatch) == nil {
		return normBatch, true
	}
	var normSingle Action
	if json.Unmarshal([]byte(normalized), &normSingle) == nil {
		return []Action{normSingle}, true
	}

	return nil, false
}

// reduceResponse applies the strict precedence table to a non-empty batch
// of Actions. Callers must ensure actions is non-empty (Parse never calls
// this with an empty batch since parseActions only succeeds when at least
// one Action round-tripped).
func reduceResponse(actions []Action, raw string) Response {
	if len(actions) == 0 {
		return Response{Kind: KindMalformed, MalformedError: "no actions found in response", MalformedRaw: raw}
	}

	pending := firstRemember(actions)

	// 1. FinalAnswer wins if any action in the batch has a non-empty f.
	if fa, ok := firstFinalAnswer(actions); ok {
		return Response{Kind: KindFinalAnswer, FinalAnswerText: fa, PendingRemember: pending}
	}

	first := actions[0]
	tool, hasTool := first.toolCall()

	// 2/3/4: Remember-family and ConfirmRequest, judged on the first action.
	if first.Remember != nil {
		content := *first.Remember
		if hasTool {
			if first.Confirm {
				return Response{Kind: KindConfirmRequest, Thought: first.Thought, Tool: tool, PendingRemember: pending}
			}
			return Response{Kind: KindRememberAndCall, RememberContent: content, Tool: tool, PendingRemember: pending}
		}
		return Response{Kind: KindRemember, RememberContent: content, PendingRemember: pending}
	}

	// Collect every tool call across the batch.
	var calls []ToolCall
	for _, a := range actions {
		if c, ok := a.toolCall(); ok {
			calls = append(calls, c)
		}
	}

	if len(calls) == 0 {
		// 6. Thought-only response becomes a FinalAnswer.
		if first.Thought != "" {
			return Response{Kind: KindFinalAnswer, FinalAnswerText: first.Thought, PendingRemember: pending}
		}
		return Response{Kind: KindMalformed, MalformedError: "no actionable content found", MalformedRaw: raw}
	}

	// 4. Confirm flag on the first action, when it carries a tool call.
	if first.Confirm {
		return Response{Kind: KindConfirmRequest, Thought: first.Thought, Tool: calls[0], PendingRemember: pending}
	}

	// 5. Plain tool call batch.
	return Response{Kind: KindToolCalls, ToolCalls: calls, PendingRemember: pending}
}

func firstFinalAnswer(actions []Action) (string, bool) {
	for _, a := range actions {
		if a.FinalAnswer != nil && *a.FinalAnswer != "" {
			return *a.FinalAnswer, true
		}
	}
	return "", false
}

func firstRemember(actions []Action) *string {
	for _, a := range actions {
		if a.Remember != nil {
			v := *a.Remember
			return &v
		}
	}
	return nil
}
