package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_NilAndEmptyAreValid(t *testing.T) {
	var nilRes *ValidationResult
	assert.True(t, nilRes.Valid())
	assert.Nil(t, nilRes.ToError())
	assert.Equal(t, "no issues", nilRes.Summary())
	assert.True(t, (&ValidationResult{}).Valid())
}

func TestValidationResult_WarningsDoNotBlock(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeWarning("orphan", "nodes[3]", ErrCodeValidation, "node \"orphan\" is unreachable")

	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Equal(t, "1 warning", r.Summary())
}

func TestValidationResult_Issues(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeWarning("notes", "nodes.notes", ErrCodeValidation, "no outgoing edge")
	r.AddNodeError("quiz", "nodes[2].kind", ErrCodeValidation, "unknown node kind \"hologram\"")
	r.AddError("nodes", ErrCodeNoStartNode, "workflow has no start node")

	issues := r.Issues()
	require.Len(t, issues, 3)
	assert.Equal(t, SeverityError, issues[0].Severity, "errors come first")
	assert.Equal(t, SeverityWarning, issues[2].Severity)

	assert.Equal(t, "quiz", issues[0].NodeID)
	assert.Empty(t, issues[1].NodeID)
	assert.Equal(t, "notes", issues[2].NodeID)
	assert.Equal(t, "2 errors, 1 warning", r.Summary())
}

func TestValidationIssue_String(t *testing.T) {
	is := ValidationIssue{Severity: SeverityError, Code: ErrCodeDuplicateEdge, Path: "edges[4]", Message: "edge a -> b repeats an existing connection"}
	assert.Equal(t, "error   DUPLICATE_EDGE edges[4]: edge a -> b repeats an existing connection", is.String())
}

func TestValidationResult_Merge(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")

	other := &ValidationResult{}
	other.AddError("edges", ErrCodeCycleDetected, "cycle")
	other.AddNodeWarning("b", "edges[1]", ErrCodeValidation, "warn")

	r.Merge(other)
	r.Merge(nil)
	assert.Len(t, r.Errors, 2)
	assert.Len(t, r.Warnings, 1)
}

func TestValidationResult_ToError(t *testing.T) {
	t.Run("single node error", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddNodeError("summary", "nodes[1].config", ErrCodeValidation, "missing property 'prompt'")

		var fe *FlowError
		require.ErrorAs(t, r.ToError(), &fe)
		assert.Equal(t, ErrCodeValidation, fe.Code)
		assert.Equal(t, "summary", fe.NodeID)
		assert.Equal(t, "nodes[1].config: missing property 'prompt'", fe.Message)
		assert.Equal(t, 1, fe.Details["error_count"])
	})

	t.Run("root error keeps bare message", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError("/", ErrCodeValidation, "workflow is nil")

		var fe *FlowError
		require.ErrorAs(t, r.ToError(), &fe)
		assert.Equal(t, "workflow is nil", fe.Message)
	})

	t.Run("several errors", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddNodeError("a", "nodes[0].id", ErrCodeValidation, "duplicate node id \"a\"")
		r.AddError("edges[0].target", ErrCodeValidation, "references non-existent node \"z\"")
		r.AddNodeWarning("c", "nodes[2]", ErrCodeValidation, "unreachable")

		var fe *FlowError
		require.ErrorAs(t, r.ToError(), &fe)
		assert.Equal(t, "2 problems in workflow; first nodes[0].id: duplicate node id \"a\"", fe.Message)
		assert.Empty(t, fe.NodeID)
		assert.Equal(t, 2, fe.Details["error_count"])
		assert.Equal(t, 1, fe.Details["warning_count"])
	})
}
