package kernel

import "github.com/haasonsaas/agentkernel/internal/intent"

// DecisionKind discriminates Transition.Decision.
type DecisionKind int

const (
	// DecisionNone means the kernel has nothing for the executor to do
	// this step (e.g. ApprovalResult(Granted) replays a pending call
	// rather than emitting a fresh intent; Tick and cancellation-free
	// RuntimeError-free idle ticks behave the same way).
	DecisionNone DecisionKind = iota
	// DecisionIntent carries a single Intent.
	DecisionIntent
	// DecisionGraph carries an IntentGraph (parallel tool-call batch, or
	// a memory-then-tool dependency chain).
	DecisionGraph
)

// Transition is the kernel's Step output: the new state plus what the
// session should do about it.
type Transition struct {
	NextState AgentState
	Kind      DecisionKind
	Intent    intent.Intent
	Graph     *intent.Graph
}

func none(state AgentState) Transition {
	return Transition{NextState: state, Kind: DecisionNone}
}

func single(state AgentState, it intent.Intent) Transition {
	return Transition{NextState: state, Kind: DecisionIntent, Intent: it}
}

func graph(state AgentState, g *intent.Graph) Transition {
	return Transition{NextState: state, Kind: DecisionGraph, Graph: g}
}
