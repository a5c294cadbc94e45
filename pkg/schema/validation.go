package schema

import (
	"fmt"
	"strings"
)

// Severity of a validation issue. Warnings never block a run.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one problem found in a workflow document. NodeID is set
// when the issue concerns a single node.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Path     string   `json:"path"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

// String renders the issue as "error   CODE path: message".
func (i ValidationIssue) String() string {
	return fmt.Sprintf("%-7s %s %s: %s", i.Severity, i.Code, i.Path, i.Message)
}

// ValidationResult collects the issues of one validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the workflow may be run.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.add(ValidationIssue{Severity: SeverityError, Code: code, Path: path, Message: message})
}

// AddNodeError records an error against a node.
func (r *ValidationResult) AddNodeError(nodeID, path, code, message string) {
	r.add(ValidationIssue{Severity: SeverityError, Code: code, Path: path, NodeID: nodeID, Message: message})
}

// AddNodeWarning records a warning against a node.
func (r *ValidationResult) AddNodeWarning(nodeID, path, code, message string) {
	r.add(ValidationIssue{Severity: SeverityWarning, Code: code, Path: path, NodeID: nodeID, Message: message})
}

func (r *ValidationResult) add(is ValidationIssue) {
	if is.Severity == SeverityError {
		r.Errors = append(r.Errors, is)
		return
	}
	r.Warnings = append(r.Warnings, is)
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Issues returns errors first, then warnings.
func (r *ValidationResult) Issues() []ValidationIssue {
	if r == nil {
		return nil
	}
	out := make([]ValidationIssue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// ToError is nil for a runnable workflow and a VALIDATION_ERROR otherwise.
// The message names the first error; the details carry every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	msg := first.Message
	if first.Path != "" && first.Path != "/" {
		msg = first.Path + ": " + msg
	}
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("%d problems in workflow; first %s", n, msg)
	}

	fe := NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
	if first.NodeID != "" && len(r.Errors) == 1 {
		fe = fe.WithNode(first.NodeID)
	}
	return fe
}

// Summary is a one-line count, e.g. "2 errors, 1 warning".
func (r *ValidationResult) Summary() string {
	plural := func(n int, word string) string {
		if n == 1 {
			return "1 " + word
		}
		return fmt.Sprintf("%d %ss", n, word)
	}
	var parts []string
	if r != nil && len(r.Errors) > 0 {
		parts = append(parts, plural(len(r.Errors), "error"))
	}
	if r != nil && len(r.Warnings) > 0 {
		parts = append(parts, plural(len(r.Warnings), "warning"))
	}
	if len(parts) == 0 {
		return "no issues"
	}
	return strings.Join(parts, ", ")
}
