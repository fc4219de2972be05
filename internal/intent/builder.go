package intent

// GraphBuilder constructs a Graph with deterministic ids derived from a
// kernel step count. The kernel calls BuilderAtStep with the step count of
// the state it is stepping, in the main session and in every worker's own
// kernel alike.
type GraphBuilder struct {
	graph       *Graph
	stepCount   uint32
	intentIndex uint32
}

// BuilderAtStep starts a builder for the given kernel step count. Callers
// pass AgentState.StepCount so that ids stay deterministic across replay.
func BuilderAtStep(stepCount uint32) *GraphBuilder {
	return &GraphBuilder{graph: NewGraph(), stepCount: stepCount}
}

func (b *GraphBuilder) nextID() ID {
	id := ID{Step: b.stepCount, Local: b.intentIndex}
	b.intentIndex++
	return id
}

// Add appends a dependency-free node and returns its id.
func (b *GraphBuilder) Add(it Intent) ID {
	id := b.nextID()
	b.graph.Add(NewNode(id, it))
	return id
}

// AddWithID inserts a node at an explicit id. Non-deterministic ids break
// replay — prefer Add/AddWithDeps.
func (b *GraphBuilder) AddWithID(id ID, it Intent) *GraphBuilder {
	b.graph.Add(NewNode(id, it))
	return b
}

// AddWithDeps appends a node depending on ids already present in this same
// builder (same step).
func (b *GraphBuilder) AddWithDeps(it Intent, deps ...ID) ID {
	id := b.nextID()
	n := NewNode(id, it)
	n.Dependencies = append(n.Dependencies, deps...)
	b.graph.Add(n)
	return id
}

// Then appends a node depending on the most recently added node.
func (b *GraphBuilder) Then(it Intent) ID {
	prevIndex := b.intentIndex
	if prevIndex > 0 {
		prevIndex--
	}
	prev := ID{Step: b.stepCount, Local: prevIndex}
	return b.AddWithDeps(it, prev)
}

// Build returns the constructed graph.
func (b *GraphBuilder) Build() *Graph { return b.graph }

// BuildValidated builds and validates the graph.
func (b *GraphBuilder) BuildValidated() (*Graph, error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// Current exposes the in-progress graph for inspection while building.
func (b *GraphBuilder) Current() *Graph { return b.graph }

// StepCount returns the step count this builder is using.
func (b *GraphBuilder) StepCount() uint32 { return b.stepCount }

// IntentCount returns the number of intents added so far.
func (b *GraphBuilder) IntentCount() uint32 { return b.intentIndex }
