package store

import (
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerMCP      = "mcp"
)

// Run is one persisted execution of a workflow.
type Run struct {
	ID          string                   `json:"id"`
	WorkflowID  string                   `json:"workflow_id,omitempty"`
	Mode        string                   `json:"mode"`
	Trigger     string                   `json:"trigger"`
	Status      schema.RunStatus         `json:"status"`
	Error       *schema.FlowError        `json:"error,omitempty"`
	Records     []schema.ExecutionRecord `json:"records,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// Result converts r to the engine's run result shape.
func (r *Run) Result() *schema.RunResult {
	res := &schema.RunResult{
		RunID:      r.ID,
		WorkflowID: r.WorkflowID,
		Status:     r.Status,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		Records:    r.Records,
	}
	if r.CompletedAt != nil {
		res.CompletedAt = *r.CompletedAt
	}
	return res
}

// StoredEvent is a run event with its per-run sequence number.
type StoredEvent struct {
	Sequence int64 `json:"sequence"`
	schema.RunEvent
}

// Schedule runs a saved workflow on a cron expression.
type Schedule struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Mode           string     `json:"mode,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ScheduleUpdate holds the mutable fields of a schedule; nil fields are kept.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// RunFilter narrows ListRuns. Results are newest first.
type RunFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}
