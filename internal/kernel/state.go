// Package kernel implements the cognitive kernel: a pure function
// Step(state, input) -> Transition that never performs I/O. It owns no
// goroutines, no clocks, no channels — every side effect is expressed as
// an Intent for the session's executor to perform.
package kernel

import (
	"github.com/haasonsaas/agentkernel/internal/intent"
	"github.com/haasonsaas/agentkernel/pkg/models"
)

// Config carries the kernel's budget limits. Defaults mirror spec §6.
type Config struct {
	MaxSteps      uint32
	MaxRejections uint32
}

// DefaultConfig returns max_steps=50, max_rejections=3.
func DefaultConfig() Config {
	return Config{MaxSteps: 50, MaxRejections: 3}
}

// AgentState is the kernel's read-only input and the session's owned,
// persisted state. The kernel never mutates a state in place; Step always
// returns a new value.
type AgentState struct {
	StepCount      uint32
	RejectionCount uint32
	History        []models.Message
	Scratchpad     string

	// BudgetExtended tracks the at-most-once StepLimit extension (open
	// question 3): the session raises max_steps automatically the first
	// time the run hits its step limit and sets this flag then, so a
	// second StepLimit halt stops the run.
	BudgetExtended bool

	// Halted and HaltReason make Halt idempotent: once Step returns a
	// Halt, every later Step on this state returns the same Halt
	// unchanged, regardless of input. The session clears Halted itself
	// when it turns a StepLimit halt into a granted budget extension and
	// continues the run.
	Halted     bool
	HaltReason intent.ExitReason
}

// NewAgentState returns a zero-value state with an empty history.
func NewAgentState() AgentState {
	return AgentState{History: []models.Message{}}
}

// WithAppendedMessage returns a copy of s with msg appended to History.
// History is append-only within a step; this is the only way new code
// should extend it.
func (s AgentState) WithAppendedMessage(msg models.Message) AgentState {
	next := s
	next.History = append(append([]models.Message(nil), s.History...), msg)
	return next
}
