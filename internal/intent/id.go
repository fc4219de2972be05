// Package intent defines the kernel's output vocabulary: the tagged-variant
// Intent type, the dependency graph that batches intents produced in a
// single kernel step, and the deterministic id scheme that makes replay
// and golden tests possible.
package intent

import "fmt"

// ID identifies one node within a single step's IntentGraph. It is derived
// purely from (step, local) and carries no randomness or wall-clock
// component — the kernel must never construct an ID any other way, since
// replaying the same (state, input) sequence must produce the same ids.
type ID struct {
	Step  uint32
	Local uint32
}

// String renders the id as "step:local", used in error messages and trace
// attributes.
func (i ID) String() string {
	return fmt.Sprintf("%d:%d", i.Step, i.Local)
}

// Less gives IDs a total order (step first, then local) so callers can sort
// node lists deterministically, e.g. before computing a topological order.
func (i ID) Less(other ID) bool {
	if i.Step != other.Step {
		return i.Step < other.Step
	}
	return i.Local < other.Local
}
