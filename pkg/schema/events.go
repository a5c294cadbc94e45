package schema

import "time"

// Event types published on the streaming hub.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventProviderFallback = "provider_fallback"
)

// RecordStatus is the lifecycle state of one node within a run.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordRunning   RecordStatus = "running"
	RecordCompleted RecordStatus = "completed"
	RecordError     RecordStatus = "error"
)

// Terminal reports whether s is completed or error.
func (s RecordStatus) Terminal() bool {
	return s == RecordCompleted || s == RecordError
}

// RunStatus is the outcome of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ExecutionRecord is the per-run state of a single node.
type ExecutionRecord struct {
	NodeID      string       `json:"node_id"`
	Status      RecordStatus `json:"status"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attempts    int          `json:"attempts,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// RunResult summarises a finished run.
type RunResult struct {
	RunID       string            `json:"run_id"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	Status      RunStatus         `json:"status"`
	Error       *FlowError        `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Records     []ExecutionRecord `json:"records"`
}

// Record returns the record of nodeID, or nil.
func (r *RunResult) Record(nodeID string) *ExecutionRecord {
	for i := range r.Records {
		if r.Records[i].NodeID == nodeID {
			return &r.Records[i]
		}
	}
	return nil
}

// RunEvent is a progress notification for a run.
type RunEvent struct {
	Type       string           `json:"type"`
	RunID      string           `json:"run_id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	NodeID     string           `json:"node_id,omitempty"`
	Record     *ExecutionRecord `json:"record,omitempty"`
	Status     RunStatus        `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
