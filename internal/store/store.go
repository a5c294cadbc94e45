// Package store persists workflows, lessons, provider settings, secrets,
// run history and schedules.
package store

import (
	"context"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Store is the persistence contract. Implementations must be safe for
// concurrent use. Missing rows yield NOT_FOUND errors.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, limit int) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Lessons
	SaveLesson(ctx context.Context, l *schema.Lesson) error
	GetLesson(ctx context.Context, id string) (*schema.Lesson, error)
	ListLessons(ctx context.Context, limit int) ([]*schema.Lesson, error)
	DeleteLesson(ctx context.Context, id string) error

	// Provider settings (keys are kept in secrets)
	GetProviderMeta(ctx context.Context, id string) (*schema.ProviderConfig, error)
	PutProviderMeta(ctx context.Context, cfg *schema.ProviderConfig) error
	ListProviderMeta(ctx context.Context) ([]*schema.ProviderConfig, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, res *schema.RunResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Run events (append-only)
	AppendRunEvent(ctx context.Context, ev *schema.RunEvent) (int64, error)
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*StoredEvent, error)

	// Schedules
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
