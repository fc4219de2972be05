package intent

import "fmt"

// UnknownDependencyError reports a node that depends on an id absent from
// the graph.
type UnknownDependencyError struct {
	Dependency ID
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("intent: unknown dependency %s", e.Dependency)
}

// CyclicDependencyError reports the set of node ids left with a non-zero
// in-degree after Kahn's algorithm terminates — the nodes that form (or
// depend on) a cycle.
type CyclicDependencyError struct {
	Remaining []ID
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("intent: cyclic dependency among %d node(s)", len(e.Remaining))
}

// Graph is an acyclic set of intent Nodes produced by the kernel in a
// single step and consumed by the executor. It is built fresh per step and
// discarded once the executor finishes with it.
type Graph struct {
	nodes map[ID]Node
	order []ID // cached topological order, nil if stale
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[ID]Node)}
}

// Single returns a graph containing exactly one node.
func Single(id ID, it Intent) *Graph {
	g := NewGraph()
	g.Add(NewNode(id, it))
	return g
}

// Add inserts or replaces a node, invalidating the cached topological
// order.
func (g *Graph) Add(n Node) {
	g.nodes[n.ID] = n
	g.order = nil
}

// Get looks up a node by id.
func (g *Graph) Get(id ID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Contains reports whether id is present.
func (g *Graph) Contains(id ID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// IsEmpty reports whether the graph has no nodes.
func (g *Graph) IsEmpty() bool { return len(g.nodes) == 0 }

// Nodes returns all nodes in unspecified order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// NodeIDs returns all node ids in unspecified order.
func (g *Graph) NodeIDs() []ID {
	out := make([]ID, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	return out
}

func toSet(ids []ID) map[ID]struct{} {
	s := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Ready returns the nodes whose dependencies are all present in completed
// and which have not themselves completed yet.
func (g *Graph) Ready(completed []ID) []Node {
	done := toSet(completed)
	out := make([]Node, 0)
	for _, n := range g.nodes {
		if _, ok := done[n.ID]; ok {
			continue
		}
		if allIn(n.Dependencies, done) {
			out = append(out, n)
		}
	}
	return out
}

// ReadyIDs is Ready projected to ids.
func (g *Graph) ReadyIDs(completed []ID) []ID {
	nodes := g.Ready(completed)
	out := make([]ID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func allIn(ids []ID, set map[ID]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// IsReady reports whether a single node id is ready given completed.
func (g *Graph) IsReady(id ID, completed []ID) bool {
	done := toSet(completed)
	if _, ok := done[id]; ok {
		return false
	}
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	return allIn(n.Dependencies, done)
}

// IsComplete reports whether every node id is in completed.
func (g *Graph) IsComplete(completed []ID) bool {
	done := toSet(completed)
	for id := range g.nodes {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}

// CompletionRatio returns len(completed)/len(nodes), or 1.0 for an empty
// graph.
func (g *Graph) CompletionRatio(completed []ID) float64 {
	if len(g.nodes) == 0 {
		return 1.0
	}
	return float64(len(completed)) / float64(len(g.nodes))
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id ID) []ID {
	out := make([]ID, 0)
	for _, n := range g.nodes {
		for _, d := range n.Dependencies {
			if d == id {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// TransitiveDependencies returns the full set of ids id depends on,
// directly or indirectly.
func (g *Graph) TransitiveDependencies(id ID) map[ID]struct{} {
	deps := make(map[ID]struct{})
	stack := []ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, d := range n.Dependencies {
			if _, seen := deps[d]; !seen {
				deps[d] = struct{}{}
				stack = append(stack, d)
			}
		}
	}
	return deps
}

// HasCycles reports whether the graph contains a cycle.
func (g *Graph) HasCycles() bool {
	_, err := g.computeTopologicalOrder()
	return err != nil
}

// Validate checks that every dependency id exists in the graph and that
// the graph is acyclic.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		for _, d := range n.Dependencies {
			if !g.Contains(d) {
				return &UnknownDependencyError{Dependency: d}
			}
		}
	}
	if _, err := g.computeTopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns a linearization with dependencies before
// dependents. The result is cached until the next Add.
func (g *Graph) TopologicalOrder() ([]ID, error) {
	if g.order != nil {
		return g.order, nil
	}
	order, err := g.computeTopologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	return order, nil
}

// computeTopologicalOrder runs Kahn's algorithm. On failure it returns a
// *CyclicDependencyError naming the nodes left with non-zero in-degree.
func (g *Graph) computeTopologicalOrder() ([]ID, error) {
	inDegree := make(map[ID]int, len(g.nodes))
	adjacency := make(map[ID][]ID)

	for id, n := range g.nodes {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range n.Dependencies {
			adjacency[dep] = append(adjacency[dep], id)
			inDegree[id]++
		}
	}

	queue := make([]ID, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]ID, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		result = append(result, id)

		for _, dependent := range adjacency[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		remaining := make([]ID, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		return nil, &CyclicDependencyError{Remaining: remaining}
	}
	return result, nil
}

// Merge adds every node of other into g, invalidating the cached order.
// The kernel does not use it: its memory-before-tool graphs are built in
// one pass with a GraphBuilder.
func (g *Graph) Merge(other *Graph) {
	for _, n := range other.nodes {
		g.Add(n)
	}
}

// Stats reports structural counts about the graph.
type Stats struct {
	TotalNodes         int
	MaxDependencyDepth int
	RootNodes          int
}

// Stats computes the node count, the root count and, as
// MaxDependencyDepth, the largest number of transitive dependencies of
// any one node; no edge count is kept. The Rust original_source calls
// this GraphStats.
func (g *Graph) Stats() Stats {
	maxDepth := 0
	roots := 0
	for id, n := range g.nodes {
		if d := len(g.TransitiveDependencies(id)); d > maxDepth {
			maxDepth = d
		}
		if n.HasNoDependencies() {
			roots++
		}
	}
	return Stats{
		TotalNodes:         len(g.nodes),
		MaxDependencyDepth: maxDepth,
		RootNodes:          roots,
	}
}

// Builder returns a builder rooted at step 0. Prefer BuilderAtStep for
// deterministic ids derived from kernel state.
func Builder() *GraphBuilder { return BuilderAtStep(0) }
