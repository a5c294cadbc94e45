// Package validation checks workflows before they run: document shape
// (JSON Schema), semantics (ids, kinds, edges, node configs) and graph
// structure (start node, cycles, reachability).
package validation

import (
	"encoding/json"

	"github.com/rendis/lessonflow/pkg/schema"
)

// WorkflowValidator runs the three validation stages.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	configs    ConfigLookup
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to skip
// node config checks.
func NewWorkflowValidator(lookup ConfigLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, configs: lookup}, nil
}

// Validate returns every issue found. Structural errors skip the later
// stages, and graph checks only run on a semantically valid workflow.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateWorkflow(wf))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(wf, wv.jsonSchema, wv.configs))
	if result.Valid() {
		result.Merge(validateGraph(wf))
	}
	return result
}

// ValidateDocument checks raw JSON, including fields the Go types would drop.
func (wv *WorkflowValidator) ValidateDocument(data []byte) *schema.ValidationResult {
	return structural(wv.jsonSchema.ValidateDocument(data))
}

// Decode runs the document check on raw JSON and decodes it. The result is
// non-nil only when the document itself is rejected.
func (wv *WorkflowValidator) Decode(data []byte) (*schema.Workflow, *schema.ValidationResult) {
	if res := wv.ValidateDocument(data); !res.Valid() {
		return nil, res
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		res := &schema.ValidationResult{}
		res.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, res
	}
	return &wf, nil
}

// Check is Validate as an error.
func (wv *WorkflowValidator) Check(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
