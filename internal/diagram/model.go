// Package diagram renders workflows as ASCII art or Mermaid flowcharts, with
// an optional overlay of a run's execution records.
package diagram

import "github.com/rendis/lessonflow/pkg/schema"

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups node IDs by their longest distance from the start node.
	// Nodes the start cannot reach come last, in a level of their own.
	Levels [][]string
}

// Node is a single workflow node in the diagram.
type Node struct {
	ID          string
	Label       string
	Kind        schema.NodeKind
	Unreachable bool
	Status      *StatusOverlay
}

// StatusOverlay carries the execution record of a node.
type StatusOverlay struct {
	Status     schema.RecordStatus
	Attempts   int
	DurationMs int64
	Error      string
}

// Edge is a connection between two nodes. Label holds the source handle.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
