package diagram

import (
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Build creates a DiagramModel from a workflow. records may be nil; when set,
// each node carries its execution record as a status overlay. The workflow
// must pass the same graph checks a run does.
func Build(wf *schema.Workflow, records []schema.ExecutionRecord) (*DiagramModel, error) {
	idx, err := engine.BuildIndex(wf)
	if err != nil {
		return nil, err
	}

	byNode := make(map[string]*schema.ExecutionRecord, len(records))
	for i := range records {
		byNode[records[i].NodeID] = &records[i]
	}

	model := &DiagramModel{Title: wf.Title}
	if model.Title == "" {
		model.Title = wf.ID
	}
	for _, id := range idx.Order {
		n := idx.Nodes[id]
		node := &Node{
			ID:          n.ID,
			Label:       nodeLabel(n),
			Kind:        n.Kind,
			Unreachable: !idx.Reachable[id],
		}
		if rec, ok := byNode[id]; ok {
			node.Status = overlay(rec)
		}
		model.Nodes = append(model.Nodes, node)
	}
	for _, e := range wf.Edges {
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: e.SourceHandle})
	}
	model.Levels = buildLevels(idx)
	return model, nil
}

func nodeLabel(n *schema.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func overlay(rec *schema.ExecutionRecord) *StatusOverlay {
	s := &StatusOverlay{Status: rec.Status, Attempts: rec.Attempts, Error: rec.Error}
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		s.DurationMs = rec.CompletedAt.Sub(*rec.StartedAt).Milliseconds()
	}
	return s
}

// buildLevels places every reachable node at its longest distance from the
// start node. The reachable subgraph is acyclic once BuildIndex succeeds.
func buildLevels(idx *engine.Index) [][]string {
	indegree := make(map[string]int, len(idx.Reachable))
	for id := range idx.Reachable {
		for _, succ := range idx.Forward[id] {
			indegree[succ]++
		}
	}

	depth := map[string]int{idx.Start: 0}
	queue := []string{idx.Start}
	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range idx.Forward[id] {
			if d := depth[id] + 1; d > depth[succ] {
				depth[succ] = d
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
				maxDepth = max(maxDepth, depth[succ])
			}
		}
	}

	levels := make([][]string, maxDepth+1)
	var orphans []string
	for _, id := range idx.Order {
		if !idx.Reachable[id] {
			orphans = append(orphans, id)
			continue
		}
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}
