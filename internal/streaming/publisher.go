package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/logging"
	"github.com/rendis/lessonflow/pkg/schema"
)

// NodeEvent converts a record change into its event. Pending records have no
// event.
func NodeEvent(runID, workflowID string, rec schema.ExecutionRecord) (schema.RunEvent, bool) {
	var typ string
	switch rec.Status {
	case schema.RecordRunning:
		typ = schema.EventNodeStarted
	case schema.RecordCompleted:
		typ = schema.EventNodeCompleted
	case schema.RecordError:
		typ = schema.EventNodeFailed
	default:
		return schema.RunEvent{}, false
	}
	r := rec
	return schema.RunEvent{
		Type:       typ,
		RunID:      runID,
		WorkflowID: workflowID,
		NodeID:     rec.NodeID,
		Record:     &r,
		Message:    rec.Error,
		Timestamp:  time.Now().UTC(),
	}, true
}

// StartEvent is the first event of a run.
func StartEvent(runID, workflowID string) schema.RunEvent {
	return schema.RunEvent{
		Type:       schema.EventRunStarted,
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     schema.RunRunning,
		Timestamp:  time.Now().UTC(),
	}
}

// EndEvent is the last event of a run.
func EndEvent(res *schema.RunResult) schema.RunEvent {
	ev := schema.RunEvent{
		Type:       schema.EventRunCompleted,
		RunID:      res.RunID,
		WorkflowID: res.WorkflowID,
		Status:     res.Status,
		Timestamp:  res.CompletedAt,
	}
	switch res.Status {
	case schema.RunFailed:
		ev.Type = schema.EventRunFailed
	case schema.RunCancelled:
		ev.Type = schema.EventRunCancelled
	}
	if res.Error != nil {
		ev.Message = res.Error.Message
	}
	return ev
}

// Publisher is an engine.Observer that forwards run progress to a Hub.
type Publisher struct {
	hub    Hub
	logger *slog.Logger
}

var _ engine.Observer = (*Publisher)(nil)

func NewPublisher(hub Hub, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{hub: hub, logger: logger}
}

// publish detaches from the run context so the final events of a cancelled
// run still go out.
func (p *Publisher) publish(ctx context.Context, ev schema.RunEvent) {
	if err := p.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.WarnContext(ctx, "publish run event", "type", ev.Type, "error", err)
	}
}

func (p *Publisher) OnRunStart(ctx context.Context, run *engine.Run) {
	p.publish(ctx, StartEvent(run.ID, run.Workflow.ID))
}

func (p *Publisher) OnRecord(ctx context.Context, run *engine.Run, _ *schema.Node, rec schema.ExecutionRecord) {
	if ev, ok := NodeEvent(run.ID, run.Workflow.ID, rec); ok {
		p.publish(ctx, ev)
	}
}

func (p *Publisher) OnRunEnd(ctx context.Context, _ *engine.Run, res *schema.RunResult) {
	p.publish(ctx, EndEvent(res))
}

// Fallback announces that an AI node switched to the search provider. Its
// signature matches actions.AIOptions.OnFallback.
func (p *Publisher) Fallback(ctx context.Context, node *schema.Node, provider string, cause error) {
	p.publish(ctx, schema.RunEvent{
		Type:       schema.EventProviderFallback,
		RunID:      logging.RunID(ctx),
		WorkflowID: logging.WorkflowID(ctx),
		NodeID:     node.ID,
		Message:    provider + " failed: " + schema.MessageOf(cause),
		Timestamp:  time.Now().UTC(),
	})
}
