package engine

import (
	"github.com/rendis/lessonflow/pkg/schema"
)

// Index is the in-memory adjacency view of a workflow, built once per run.
// Forward and Backward keep edge order; an edge repeated with different handles
// appears once per edge.
type Index struct {
	Nodes     map[string]*schema.Node // node ID → node
	Order     []string                // node IDs in workflow order
	Forward   map[string][]string     // node ID → successors
	Backward  map[string][]string     // node ID → predecessors
	Start     string                  // the unique start node
	Reachable map[string]bool         // nodes reachable from Start
}

// BuildIndex indexes a workflow in O(V+E). It fails with NO_START_NODE when the
// graph has no start node, VALIDATION_ERROR for duplicate ids, unknown kinds,
// several start nodes or dangling edges, and CYCLE_DETECTED when a cycle is
// reachable from start.
func BuildIndex(wf *schema.Workflow) (*Index, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	idx := &Index{
		Nodes:     make(map[string]*schema.Node, len(wf.Nodes)),
		Order:     make([]string, 0, len(wf.Nodes)),
		Forward:   make(map[string][]string, len(wf.Nodes)),
		Backward:  make(map[string][]string, len(wf.Nodes)),
		Reachable: make(map[string]bool, len(wf.Nodes)),
	}

	var starts []string
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := idx.Nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", n.ID)
		}
		if !n.Kind.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node kind %q", n.Kind).WithNode(n.ID)
		}
		idx.Nodes[n.ID] = n
		idx.Order = append(idx.Order, n.ID)
		if n.Kind == schema.KindStart {
			starts = append(starts, n.ID)
		}
	}

	switch len(starts) {
	case 0:
		return nil, schema.NewError(schema.ErrCodeNoStartNode, "workflow has no start node")
	case 1:
		idx.Start = starts[0]
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow has %d start nodes", len(starts)).
			WithDetails(map[string]any{"start_nodes": starts})
	}

	for _, e := range wf.Edges {
		if _, ok := idx.Nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references unknown source %s", e.ID, e.Source)
		}
		if _, ok := idx.Nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references unknown target %s", e.ID, e.Target)
		}
		idx.Forward[e.Source] = append(idx.Forward[e.Source], e.Target)
		idx.Backward[e.Target] = append(idx.Backward[e.Target], e.Source)
	}

	idx.markReachable()
	if err := idx.checkAcyclic(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Successors returns the forward list of a node.
func (idx *Index) Successors(id string) []string { return idx.Forward[id] }

// Predecessors returns the backward list of a node.
func (idx *Index) Predecessors(id string) []string { return idx.Backward[id] }

func (idx *Index) markReachable() {
	stack := []string{idx.Start}
	idx.Reachable[idx.Start] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range idx.Forward[id] {
			if !idx.Reachable[next] {
				idx.Reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
}

// checkAcyclic runs Kahn's algorithm over the reachable subgraph.
func (idx *Index) checkAcyclic() error {
	inDegree := make(map[string]int, len(idx.Reachable))
	for id := range idx.Reachable {
		for _, next := range idx.Forward[id] {
			inDegree[next]++
		}
	}

	queue := make([]string, 0, len(idx.Reachable))
	for id := range idx.Reachable {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range idx.Forward[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(idx.Reachable) {
		var stuck []string
		for _, id := range idx.Order {
			if idx.Reachable[id] && inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle reachable from start").
			WithDetails(map[string]any{"nodes": stuck})
	}
	return nil
}
