package mcp

import (
	"context"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/streaming"
	"github.com/rendis/lessonflow/pkg/schema"
)

// ProgressNotifier pushes run progress as MCP log notifications to the client
// session that started the run. Runs started elsewhere have no session in
// their context and are skipped.
type ProgressNotifier struct {
	srv atomic.Pointer[server.MCPServer]
}

var _ engine.Observer = (*ProgressNotifier)(nil)

func NewProgressNotifier() *ProgressNotifier { return &ProgressNotifier{} }

// Bind sets the server notifications are sent through.
func (n *ProgressNotifier) Bind(s *server.MCPServer) { n.srv.Store(s) }

func (n *ProgressNotifier) OnRunStart(ctx context.Context, run *engine.Run) {
	n.notify(ctx, streaming.StartEvent(run.ID, run.Workflow.ID))
}

func (n *ProgressNotifier) OnRecord(ctx context.Context, run *engine.Run, _ *schema.Node, rec schema.ExecutionRecord) {
	if ev, ok := streaming.NodeEvent(run.ID, run.Workflow.ID, rec); ok {
		n.notify(ctx, ev)
	}
}

func (n *ProgressNotifier) OnRunEnd(ctx context.Context, _ *engine.Run, res *schema.RunResult) {
	n.notify(ctx, streaming.EndEvent(res))
}

// notify is best-effort: a client that went away is not an error.
func (n *ProgressNotifier) notify(ctx context.Context, ev schema.RunEvent) {
	srv := n.srv.Load()
	if srv == nil || server.ClientSessionFromContext(ctx) == nil {
		return
	}
	level := "info"
	if ev.Type == schema.EventNodeFailed || ev.Type == schema.EventRunFailed {
		level = "warning"
	}
	_ = srv.SendNotificationToClient(context.WithoutCancel(ctx), "notifications/message", map[string]any{
		"level":  level,
		"logger": "lessonflow",
		"data":   ev,
	})
}
