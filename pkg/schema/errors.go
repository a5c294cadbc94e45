package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNoStartNode         = "NO_START_NODE"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodeDuplicateEdge       = "DUPLICATE_EDGE"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeNodeFailed          = "NODE_FAILED"
	ErrCodeMissingCredentials  = "MISSING_CREDENTIALS"
	ErrCodeProvider            = "PROVIDER_ERROR"
	ErrCodeCircuitOpen         = "CIRCUIT_OPEN"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeExecutionLimit      = "EXECUTION_LIMIT"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeVault               = "VAULT_ERROR"
)

// FlowError is the structured error type for all lessonflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "" if none.
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// MessageOf returns the bare message of a FlowError, or err.Error() otherwise.
// Execution records store this form so callers see the handler's own wording.
func MessageOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
