package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/lessonflow/internal/diagram"
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

// handleRun validates and executes a workflow. The run is detached from the
// tool call so wait=false returns immediately and leaves it running.
func (s *LessonflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, errResult := s.resolveWorkflow(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	mode, err := engine.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return toolError(err), nil
	}
	if res := s.validator.Validate(wf); !res.Valid() {
		result, err := marshalResult(map[string]any{"valid": false, "errors": res.Errors, "warnings": res.Warnings})
		if result != nil {
			result.IsError = true
		}
		return result, err
	}

	run, err := s.runs.Start(context.WithoutCancel(ctx), wf, runs.StartOptions{Mode: mode, Trigger: store.TriggerMCP})
	if err != nil {
		return toolError(err), nil
	}
	s.logger.InfoContext(ctx, "mcp run started", "run_id", run.ID, "workflow_id", wf.ID, "mode", run.Mode)

	if !req.GetBool("wait", true) {
		return marshalResult(map[string]any{"run_id": run.ID, "mode": run.Mode, "status": schema.RunRunning})
	}
	select {
	case <-run.Done():
		return marshalResult(run.Wait())
	case <-ctx.Done():
		return marshalResult(map[string]any{"run_id": run.ID, "mode": run.Mode, "status": schema.RunRunning})
	}
}

func (s *LessonflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := workflowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if data == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	res := s.validator.ValidateDocument(data)
	if res.Valid() {
		var wf schema.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
		}
		res = s.validator.Validate(&wf)
	}
	return marshalResult(map[string]any{"valid": res.Valid(), "errors": res.Errors, "warnings": res.Warnings})
}

func (s *LessonflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return toolError(err), nil
	}
	if !req.GetBool("include_events", false) {
		return marshalResult(run)
	}
	events, err := s.runs.Events(ctx, runID, 0)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"run": run, "events": events})
}

func (s *LessonflowServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := s.runs.Cancel(ctx, runID); err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]string{"run_id": runID, "status": "cancelling"})
}

// handleDiagram draws a workflow. With run_id the run's records are overlaid
// and, when no workflow is given, the run's own workflow is drawn.
func (s *LessonflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}

	var wf *schema.Workflow
	var records []schema.ExecutionRecord
	if runID := req.GetString("run_id", ""); runID != "" {
		wf, records, err = s.runWorkflow(ctx, runID)
		if err != nil {
			return toolError(err), nil
		}
	}
	if wf == nil || hasWorkflowArg(req) {
		got, errResult := s.resolveWorkflow(ctx, req)
		if errResult != nil {
			return errResult, nil
		}
		wf = got
	}

	model, err := diagram.Build(wf, records)
	if err != nil {
		return toolError(err), nil
	}
	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
}

// runWorkflow returns the records of a run and, when known, its workflow.
// Finished inline runs only keep their records.
func (s *LessonflowServer) runWorkflow(ctx context.Context, runID string) (*schema.Workflow, []schema.ExecutionRecord, error) {
	if live, ok := s.runs.Live(runID); ok {
		return live.Workflow, live.Snapshot(), nil
	}
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.WorkflowID == "" || s.store == nil {
		return nil, run.Records, nil
	}
	wf, err := s.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, nil, err
	}
	return wf, run.Records, nil
}

// resolveWorkflow reads the inline workflow or loads workflow_id.
func (s *LessonflowServer) resolveWorkflow(ctx context.Context, req mcp.CallToolRequest) (*schema.Workflow, *mcp.CallToolResult) {
	data, err := workflowArg(req)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	id := req.GetString("workflow_id", "")

	switch {
	case data != nil && id != "":
		return nil, mcp.NewToolResultError("set either workflow or workflow_id, not both")
	case data != nil:
		if res := s.validator.ValidateDocument(data); !res.Valid() {
			return nil, toolError(res.ToError())
		}
		var wf schema.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
		}
		return &wf, nil
	case id != "":
		if s.store == nil {
			return nil, mcp.NewToolResultError("no store configured for workflow_id lookups")
		}
		wf, err := s.store.GetWorkflow(ctx, id)
		if err != nil {
			return nil, toolError(err)
		}
		return wf, nil
	default:
		return nil, mcp.NewToolResultError("workflow or workflow_id is required")
	}
}

func hasWorkflowArg(req mcp.CallToolRequest) bool {
	args := req.GetArguments()
	return args["workflow"] != nil || req.GetString("workflow_id", "") != ""
}

// workflowArg returns the workflow argument re-encoded as JSON, or nil when
// it is absent.
func workflowArg(req mcp.CallToolRequest) ([]byte, error) {
	raw, ok := req.GetArguments()["workflow"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow is not valid JSON: %w", err)
	}
	return data, nil
}

// toolError reports err to the agent with its code.
func toolError(err error) *mcp.CallToolResult {
	if code := schema.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", code, schema.MessageOf(err)))
	}
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
