package shortkey

import "testing"

func TestParseFinalAnswer(t *testing.T) {
	resp, err := Parse(`{"t": "Thinking...", "f": "Hello user!"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindFinalAnswer {
		t.Fatalf("expected FinalAnswer, got %v", resp.Kind)
	}
	if resp.FinalAnswerText != "Hello user!" {
		t.Fatalf("unexpected final answer text: %q", resp.FinalAnswerText)
	}
}

func TestParseToolCall(t *testing.T) {
	resp, err := Parse(`{"t": "List files", "a": "shell", "i": {"command": "ls"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindToolCalls {
		t.Fatalf("expected ToolCalls, got %v", resp.Kind)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "shell" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
}

func TestParseConfirmRequest(t *testing.T) {
	resp, err := Parse(`{"t": "Delete file?", "c": true, "a": "shell", "i": {"command": "rm file"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindConfirmRequest {
		t.Fatalf("expected ConfirmRequest, got %v", resp.Kind)
	}
	if resp.Thought != "Delete file?" || resp.Tool.Name != "shell" {
		t.Fatalf("unexpected confirm request: %+v", resp)
	}
}

func TestParseBatch(t *testing.T) {
	resp, err := Parse(`[{"a": "tool1"}, {"a": "tool2"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindToolCalls {
		t.Fatalf("expected ToolCalls, got %v", resp.Kind)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].Name != "tool1" || resp.ToolCalls[1].Name != "tool2" {
		t.Fatalf("unexpected batch: %+v", resp.ToolCalls)
	}
}

func TestParseFromFencedBlock(t *testing.T) {
	content := "Some text\n```json\n{\"f\": \"Hello from fence\"}\n```\nMore text"
	resp, err := Parse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindFinalAnswer || resp.FinalAnswerText != "Hello from fence" {
		t.Fatalf("expected FinalAnswer from fenced block, got %+v", resp)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse("not json at all")
	if err == nil {
		t.Fatal("expected an error for non-JSON input")
	}
}

func TestParseRememberWithFinalAnswerTakesPrecedenceButStillPending(t *testing.T) {
	content := `{"t": "User likes Python", "r": "User prefers Python", "f": "I'll use Python."}`
	resp, err := Parse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindFinalAnswer {
		t.Fatalf("expected FinalAnswer to win precedence, got %v", resp.Kind)
	}
	if resp.FinalAnswerText != "I'll use Python." {
		t.Fatalf("unexpected final answer: %q", resp.FinalAnswerText)
	}
	if resp.PendingRemember == nil || *resp.PendingRemember != "User prefers Python" {
		t.Fatalf("expected the memory side effect to still be pending, got %v", resp.PendingRemember)
	}
}

func TestParseRememberOnly(t *testing.T) {
	content := `{"t": "User likes Python", "r": "User prefers Python"}`
	resp, err := Parse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindRemember {
		t.Fatalf("expected Remember, got %v", resp.Kind)
	}
	if resp.RememberContent != "User prefers Python" {
		t.Fatalf("unexpected remember content: %q", resp.RememberContent)
	}
}

func TestParseRememberAndCall(t *testing.T) {
	content := `{"t": "Save pref and run", "r": "User likes dark mode", "a": "shell", "i": {"command": "ls"}}`
	resp, err := Parse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindRememberAndCall {
		t.Fatalf("expected RememberAndCall, got %v", resp.Kind)
	}
	if resp.RememberContent != "User likes dark mode" || resp.Tool.Name != "shell" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestParseRememberAndCallWithConfirmEscalates(t *testing.T) {
	content := `{"t": "Careful", "r": "note", "c": true, "a": "shell", "i": {"command": "rm -rf"}}`
	resp, err := Parse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindConfirmRequest {
		t.Fatalf("expected ConfirmRequest when remember+call+confirm combine, got %v", resp.Kind)
	}
	if resp.PendingRemember == nil || *resp.PendingRemember != "note" {
		t.Fatalf("expected pending remember to survive confirm escalation, got %v", resp.PendingRemember)
	}
}

func TestParseThoughtOnlyBecomesFinalAnswer(t *testing.T) {
	resp, err := Parse(`{"t": "Just thinking out loud"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindFinalAnswer || resp.FinalAnswerText != "Just thinking out loud" {
		t.Fatalf("expected thought-only FinalAnswer, got %+v", resp)
	}
}

func TestParseMalformedEmptyObject(t *testing.T) {
	resp, err := Parse(`{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindMalformed {
		t.Fatalf("expected Malformed for an empty action, got %v", resp.Kind)
	}
}

func TestEscapeUnescapedNewlines(t *testing.T) {
	input := "{\"t\": \"Line 1\nLine 2\", \"f\": \"answer\"}"
	normalized := escapeUnescapedNewlinesInJSONStrings(input)

	if !containsLiteral(normalized, `Line 1\nLine 2`) {
		t.Fatalf("expected escaped newline in normalized output, got %q", normalized)
	}

	resp, err := Parse(input)
	if err != nil {
		t.Fatalf("expected raw-newline JSON to parse after normalization retry: %v", err)
	}
	if resp.Kind != KindFinalAnswer || resp.FinalAnswerText != "answer" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func containsLiteral(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestExtractStreamingPartialThought(t *testing.T) {
	thought, final, done := ExtractStreaming(`{"t": "Hel`)
	if thought != "Hel" || final != "" || done {
		t.Fatalf("unexpected streaming extraction: %q %q %v", thought, final, done)
	}
}

func TestExtractStreamingThoughtAndPartialFinal(t *testing.T) {
	thought, final, done := ExtractStreaming(`{"t": "Hello", "f": "Wor`)
	if thought != "Hello" || final != "Wor" || done {
		t.Fatalf("unexpected streaming extraction: %q %q %v", thought, final, done)
	}
}

func TestExtractStreamingComplete(t *testing.T) {
	thought, final, done := ExtractStreaming(`{"t": "Thought", "f": "Answer"}`)
	if thought != "Thought" || final != "Answer" || !done {
		t.Fatalf("unexpected streaming extraction: %q %q %v", thought, final, done)
	}
}

func TestExtractStreamingFinalOnly(t *testing.T) {
	thought, final, done := ExtractStreaming(`{"f": "Just answer"}`)
	if thought != "" || final != "Just answer" || !done {
		t.Fatalf("unexpected streaming extraction: %q %q %v", thought, final, done)
	}
}

func TestExtractStreamingEscapedQuotes(t *testing.T) {
	thought, _, _ := ExtractStreaming(`{"t": "Say \"hello\"", "f": ""}`)
	if thought != `Say "hello"` {
		t.Fatalf("unexpected escaped-quote extraction: %q", thought)
	}
}

func TestExtractJSONObjectsBraceBalanceWithNestedStrings(t *testing.T) {
	content := `garbage before {"a": "shell", "i": {"command": "echo \"hi\""}} garbage after`
	candidates := extractJSONObjects(content)
	if len(candidates) != 1 {
		t.Fatalf("expected exactly one candidate, got %d: %v", len(candidates), candidates)
	}
	resp, err := Parse(candidates[0])
	if err != nil {
		t.Fatalf("unexpected error parsing extracted candidate: %v", err)
	}
	if resp.Kind != KindToolCalls || resp.ToolCalls[0].Name != "shell" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
