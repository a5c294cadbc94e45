package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/pkg/schema"
)

const promptSchema = `{"type":"object","properties":{"prompt":{"type":"string","minLength":1}},"required":["prompt"]}`

type lookupFunc func(schema.NodeKind) []byte

func (f lookupFunc) ConfigSchema(k schema.NodeKind) []byte { return f(k) }

func aiConfigs() ConfigLookup {
	return lookupFunc(func(k schema.NodeKind) []byte {
		if k.Family() == schema.FamilyAI {
			return []byte(promptSchema)
		}
		return nil
	})
}

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator(aiConfigs())
	require.NoError(t, err)
	return v
}

func lesson() *schema.Workflow {
	return &schema.Workflow{
		ID:    "wf",
		Title: "Cells",
		Nodes: []schema.Node{
			{ID: "s", Kind: schema.KindStart},
			{ID: "r", Kind: schema.KindAIResearch, Config: map[string]any{"prompt": "cells"}},
			{ID: "n", Kind: schema.KindNotes},
			{ID: "e", Kind: schema.KindEnd},
		},
		Edges: []schema.Edge{
			{ID: "1", Source: "s", Target: "r"},
			{ID: "2", Source: "r", Target: "n"},
			{ID: "3", Source: "n", Target: "e"},
		},
	}
}

func codes(issues []schema.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	res := newValidator(t).Validate(lesson())
	assert.True(t, res.Valid(), "%+v", res.Errors)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, newValidator(t).Check(lesson()))
}

func TestValidate_Nil(t *testing.T) {
	assert.False(t, newValidator(t).Validate(nil).Valid())
}

func TestValidate_Structural(t *testing.T) {
	v := newValidator(t)

	res := v.Validate(&schema.Workflow{Title: "empty"})
	require.False(t, res.Valid())
	assert.Contains(t, res.Errors[0].Message, "/nodes")

	wf := lesson()
	wf.Nodes[1].ID = ""
	res = v.Validate(wf)
	require.False(t, res.Valid())
	assert.Contains(t, res.Errors[0].Message, "/nodes/1/id")
}

func TestValidateDocument_UnknownField(t *testing.T) {
	res := newValidator(t).ValidateDocument([]byte(`{"nodes":[{"id":"s","kind":"start","colour":"red"}]}`))
	require.False(t, res.Valid())
	assert.Contains(t, res.Errors[0].Message, "colour")

	res = newValidator(t).ValidateDocument([]byte(`{"nodes":`))
	assert.False(t, res.Valid())
}

func TestDecode(t *testing.T) {
	v := newValidator(t)

	wf, res := v.Decode([]byte(`{"id":"wf","nodes":[{"id":"s","kind":"start"}],"edges":[]}`))
	require.Nil(t, res)
	assert.Equal(t, "wf", wf.ID)
	assert.Equal(t, schema.KindStart, wf.Nodes[0].Kind)

	wf, res = v.Decode([]byte(`{"nodes":[{"id":"s","kind":"start","colour":"red"}]}`))
	assert.Nil(t, wf)
	require.NotNil(t, res)
	assert.False(t, res.Valid())
}

func TestValidate_Semantic(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Workflow)
		code   string
		path   string
	}{
		{"duplicate node", func(w *schema.Workflow) { w.Nodes[2].ID = "r" }, schema.ErrCodeValidation, "nodes[2].id"},
		{"unknown kind", func(w *schema.Workflow) { w.Nodes[2].Kind = "hologram" }, schema.ErrCodeValidation, "nodes[2].kind"},
		{"no start", func(w *schema.Workflow) { w.Nodes[0].Kind = schema.KindTopic }, schema.ErrCodeNoStartNode, "nodes"},
		{"two starts", func(w *schema.Workflow) { w.Nodes[2].Kind = schema.KindStart }, schema.ErrCodeValidation, "nodes"},
		{"dangling target", func(w *schema.Workflow) { w.Edges[2].Target = "ghost" }, schema.ErrCodeValidation, "edges[2].target"},
		{"duplicate edge id", func(w *schema.Workflow) { w.Edges[1].ID = "1" }, schema.ErrCodeValidation, "edges[1].id"},
		{"repeated connection", func(w *schema.Workflow) {
			w.Edges = append(w.Edges, schema.Edge{ID: "4", Source: "s", Target: "r"})
		}, schema.ErrCodeDuplicateEdge, "edges[3]"},
		{"missing prompt", func(w *schema.Workflow) { w.Nodes[1].Config = nil }, schema.ErrCodeValidation, "nodes[1].config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := lesson()
			tt.mutate(wf)
			res := newValidator(t).Validate(wf)
			require.False(t, res.Valid())
			assert.Contains(t, codes(res.Errors), tt.code)
			var paths []string
			for _, e := range res.Errors {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestValidate_NodeIssuesNameTheNode(t *testing.T) {
	v := newValidator(t)

	wf := lesson()
	wf.Nodes[1].Config = nil
	res := v.Validate(wf)
	require.False(t, res.Valid())
	require.NotEmpty(t, issuesFor(res, "r"))
	assert.Equal(t, schema.SeverityError, issuesFor(res, "r")[0].Severity)

	var fe *schema.FlowError
	require.ErrorAs(t, res.ToError(), &fe)
	assert.Equal(t, "r", fe.NodeID)

	wf = lesson()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "orphan", Kind: schema.KindVideo})
	res = v.Validate(wf)
	require.True(t, res.Valid())
	orphan := issuesFor(res, "orphan")
	require.NotEmpty(t, orphan)
	assert.Equal(t, schema.SeverityWarning, orphan[0].Severity)
}

func issuesFor(res *schema.ValidationResult, nodeID string) []schema.ValidationIssue {
	var out []schema.ValidationIssue
	for _, is := range res.Issues() {
		if is.NodeID == nodeID {
			out = append(out, is)
		}
	}
	return out
}

func TestValidate_DifferentHandlesAreDistinct(t *testing.T) {
	wf := lesson()
	wf.Edges = append(wf.Edges, schema.Edge{ID: "4", Source: "s", Target: "r", SourceHandle: "alt"})
	assert.True(t, newValidator(t).Validate(wf).Valid())
}

func TestValidate_Graph(t *testing.T) {
	v := newValidator(t)

	wf := lesson()
	wf.Edges = append(wf.Edges, schema.Edge{ID: "back", Source: "n", Target: "r"})
	res := v.Validate(wf)
	require.False(t, res.Valid())
	assert.Equal(t, []string{schema.ErrCodeCycleDetected}, codes(res.Errors))

	wf = lesson()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "orphan", Kind: schema.KindQuiz})
	res = v.Validate(wf)
	require.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "orphan")
}

func TestValidate_Warnings(t *testing.T) {
	wf := lesson()
	wf.Edges = wf.Edges[:2] // n has no way out
	wf.Edges = append(wf.Edges, schema.Edge{ID: "x", Source: "e", Target: "n"})
	res := newValidator(t).Validate(wf)
	require.True(t, res.Valid(), "%+v", res.Errors)

	var msgs []string
	for _, w := range res.Warnings {
		msgs = append(msgs, w.Message)
	}
	assert.Contains(t, msgs, `edge leaves end node "e" and is never followed`)
}

func TestValidate_NoLookupSkipsConfigs(t *testing.T) {
	v, err := NewWorkflowValidator(nil)
	require.NoError(t, err)
	wf := lesson()
	wf.Nodes[1].Config = nil
	assert.True(t, v.Validate(wf).Valid())
}

func TestValidateConfig_Caches(t *testing.T) {
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	require.NoError(t, jsv.ValidateConfig(map[string]any{"prompt": "x"}, []byte(promptSchema)))
	assert.Error(t, jsv.ValidateConfig(map[string]any{"prompt": ""}, []byte(promptSchema)))
	assert.Len(t, jsv.cache, 1)

	err = jsv.ValidateConfig(nil, []byte(`{"type":`))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.NoError(t, jsv.ValidateConfig(nil, nil))
}
