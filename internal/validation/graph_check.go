package validation

import (
	"fmt"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/pkg/schema"
)

// validateGraph indexes the workflow the way the walker will and reports
// cycles reachable from start, plus nodes the walker can never visit.
func validateGraph(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	idx, err := engine.BuildIndex(wf)
	if err != nil {
		issue := schema.ErrCodeValidation
		if code := schema.CodeOf(err); code != "" {
			issue = code
		}
		result.AddError("edges", issue, schema.MessageOf(err))
		return result
	}

	for i, id := range idx.Order {
		if idx.Reachable[id] {
			continue
		}
		result.AddNodeWarning(id, fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
			fmt.Sprintf("node %q is unreachable from the start node", id))
	}

	for _, id := range idx.Order {
		n := idx.Nodes[id]
		if !idx.Reachable[id] || n.Kind == schema.KindEnd || n.Kind == schema.KindStart {
			continue
		}
		if len(idx.Forward[id]) == 0 {
			result.AddNodeWarning(id, "nodes."+id, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has no outgoing edge; its branch ends without an end node", id))
		}
	}
	return result
}
