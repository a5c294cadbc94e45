// Package mcp exposes lessonflow to agents as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/internal/validation"
)

// ServerDeps holds the dependencies for creating a LessonflowServer. Store
// may be nil, which disables workflow_id lookups. Notifier, when set, is
// bound to the new server and should also be one of the run observers.
type ServerDeps struct {
	Runs      *runs.Service
	Store     store.Store
	Validator *validation.WorkflowValidator
	Notifier  *ProgressNotifier
	Version   string
	Logger    *slog.Logger
}

// LessonflowServer wraps an MCP server with the lessonflow tool handlers.
type LessonflowServer struct {
	runs      *runs.Service
	store     store.Store
	validator *validation.WorkflowValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewLessonflowServer creates the server with every tool registered.
func NewLessonflowServer(deps ServerDeps) *LessonflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &LessonflowServer{
		runs:      deps.Runs,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"lessonflow",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("lessonflow runs lesson workflows: graphs of AI, content, messaging, PDF and calendar nodes. "+
			"Use lessonflow.validate before running, lessonflow.run to execute, lessonflow.status to inspect a run, "+
			"lessonflow.cancel to stop one and lessonflow.diagram to draw a workflow."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	if deps.Notifier != nil {
		deps.Notifier.Bind(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *LessonflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LessonflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *LessonflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("lessonflow.run",
		mcp.WithDescription("Execute a lesson workflow, inline or saved"),
		mcp.WithObject("workflow", mcp.Description("Workflow document with nodes and edges")),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow (instead of workflow)")),
		mcp.WithString("mode",
			mcp.Enum("barrier", "per-path"),
			mcp.Description("Walk mode: barrier runs a merge node once after all its inputs, per-path once per input"),
		),
		mcp.WithBoolean("wait", mcp.Description("Wait for the run to finish (default: true)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("lessonflow.validate",
		mcp.WithDescription("Validate a workflow without running it"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document with nodes and edges")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("lessonflow.status",
		mcp.WithDescription("Get the status and node records of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithBoolean("include_events", mcp.Description("Include the run's event log (default: false)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("lessonflow.cancel",
		mcp.WithDescription("Cancel a running workflow"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("lessonflow.diagram",
		mcp.WithDescription("Draw a workflow as ASCII art or a Mermaid flowchart, optionally with a run's node status"),
		mcp.WithObject("workflow", mcp.Description("Workflow document with nodes and edges")),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow")),
		mcp.WithString("run_id", mcp.Description("Run whose records are drawn on top; its workflow is used when none is given")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format"),
		),
	)
}
