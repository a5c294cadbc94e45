package engine

import (
	"fmt"
	"strings"
)

// InputSeparator joins labelled predecessor results.
const InputSeparator = "\n\n---\n\n"

// CollectInputs builds the input string of a node from its predecessors'
// completed results, in backward-list order.
//
// No predecessors yields "". A single predecessor yields its result verbatim.
// Otherwise each non-empty result becomes "[label]:\n<result>" and the blocks
// are joined with InputSeparator; a predecessor without a label is named
// "Input <n>" after its 1-based position in the list.
func CollectInputs(nodeID string, idx *Index, t *Tracker) string {
	preds := idx.Predecessors(nodeID)
	switch len(preds) {
	case 0:
		return ""
	case 1:
		return t.Result(preds[0])
	}

	blocks := make([]string, 0, len(preds))
	for i, pred := range preds {
		result := t.Result(pred)
		if result == "" {
			continue
		}
		label := ""
		if n := idx.Nodes[pred]; n != nil {
			label = n.Label
		}
		if label == "" {
			label = fmt.Sprintf("Input %d", i+1)
		}
		blocks = append(blocks, "["+label+"]:\n"+result)
	}
	return strings.Join(blocks, InputSeparator)
}
