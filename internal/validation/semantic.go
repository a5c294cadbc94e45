package validation

import (
	"fmt"

	"github.com/rendis/lessonflow/pkg/schema"
)

// ConfigLookup returns the JSON Schema of a kind's node config, or nil.
// Satisfied by *actions.Dispatcher.
type ConfigLookup interface {
	ConfigSchema(kind schema.NodeKind) []byte
}

// validateSemantic checks node ids and kinds, edge endpoints, repeated
// connections and node configs.
func validateSemantic(wf *schema.Workflow, jsv *JSONSchemaValidator, lookup ConfigLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(wf.Nodes))
	starts := 0
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if ids[n.ID] {
			result.AddNodeError(n.ID, path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true

		if !n.Kind.Valid() {
			result.AddNodeError(n.ID, path+".kind", schema.ErrCodeValidation, fmt.Sprintf("unknown node kind %q", n.Kind))
			continue
		}
		if n.Kind == schema.KindStart {
			starts++
		}
		validateNodeConfig(n, path, jsv, lookup, result)
	}

	switch {
	case starts == 0:
		result.AddError("nodes", schema.ErrCodeNoStartNode, "workflow has no start node")
	case starts > 1:
		result.AddError("nodes", schema.ErrCodeValidation, fmt.Sprintf("workflow has %d start nodes", starts))
	}

	edgeIDs := make(map[string]bool, len(wf.Edges))
	var seen []schema.Edge
	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if e.ID != "" {
			if edgeIDs[e.ID] {
				result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate edge id %q", e.ID))
			}
			edgeIDs[e.ID] = true
		}
		if !ids[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !ids[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", e.Target))
		}
		for _, prev := range seen {
			if prev.SameConnection(e) {
				result.AddError(path, schema.ErrCodeDuplicateEdge,
					fmt.Sprintf("edge %s -> %s repeats an existing connection", e.Source, e.Target))
				break
			}
		}
		seen = append(seen, e)
		if n := wf.Node(e.Source); n != nil && n.Kind == schema.KindEnd {
			result.AddNodeWarning(e.Source, path, schema.ErrCodeValidation,
				fmt.Sprintf("edge leaves end node %q and is never followed", e.Source))
		}
	}
	return result
}

func validateNodeConfig(n *schema.Node, path string, jsv *JSONSchemaValidator, lookup ConfigLookup, result *schema.ValidationResult) {
	if lookup == nil || n.Kind == schema.KindEnd {
		return
	}
	cs := lookup.ConfigSchema(n.Kind)
	if len(cs) == 0 {
		return
	}
	err := jsv.ValidateConfig(n.Config, cs)
	if err == nil {
		return
	}
	fe, ok := err.(*schema.FlowError)
	if ok {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddNodeError(n.ID, path+".config", schema.ErrCodeValidation, v)
			}
			return
		}
	}
	result.AddNodeError(n.ID, path+".config", schema.ErrCodeValidation, schema.MessageOf(err))
}
