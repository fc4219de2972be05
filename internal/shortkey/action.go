// Package shortkey implements the Short-Key JSON response protocol: a
// compact tool-call schema ({t,a,i,f,c,r}) that the kernel's response
// parser consumes to decide the next Intent. Extraction tries several
// strategies in order before giving up, and a streaming mode extracts
// partial values from a truncated JSON prefix.
package shortkey

import "encoding/json"

// Action is one Short-Key object: `{"t":...,"a":...,"i":...,"f":...,
// "c":...,"r":...}`. All fields are optional except Thought, which
// defaults to the empty string.
type Action struct {
	Thought     string          `json:"t,omitempty"`
	Action      *string         `json:"a,omitempty"`
	Input       json.RawMessage `json:"i,omitempty"`
	FinalAnswer *string         `json:"f,omitempty"`
	Confirm     bool            `json:"c,omitempty"`
	Remember    *string         `json:"r,omitempty"`
}

// ToolCall is the (name, arguments) pair extracted from an Action whose
// "a" field is present.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (a Action) toolCall() (ToolCall, bool) {
	if a.Action == nil {
		return ToolCall{}, false
	}
	args := a.Input
	if args == nil {
		args = json.RawMessage("null")
	}
	return ToolCall{Name: *a.Action, Arguments: args}, true
}
