package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

type startRunRequest struct {
	Workflow   *schema.Workflow `json:"workflow,omitempty"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	Mode       string           `json:"mode,omitempty"`
	// Wait blocks the response until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

type startRunResponse struct {
	RunID      string           `json:"run_id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	Mode       engine.Mode      `json:"mode"`
	Status     schema.RunStatus `json:"status"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf := req.Workflow
	switch {
	case wf != nil && req.WorkflowID != "":
		writeError(w, http.StatusBadRequest, "set either workflow or workflow_id, not both")
		return
	case wf == nil && req.WorkflowID == "":
		writeError(w, http.StatusBadRequest, "workflow or workflow_id is required")
		return
	case wf == nil:
		got, err := s.deps.Store.GetWorkflow(r.Context(), req.WorkflowID)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		wf = got
	}
	s.startRun(w, r, wf, req.Mode, req.Wait)
}

func (s *Server) handleStartSavedRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	s.startRun(w, r, wf, req.Mode, req.Wait)
}

// startRun validates wf and starts it detached from the request, so the run
// outlives the connection and is only stopped through DELETE.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, wf *schema.Workflow, modeName string, wait bool) {
	mode, err := engine.ParseMode(modeName)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if err := s.deps.Validator.Check(wf); err != nil {
		writeFlowError(w, err)
		return
	}

	run, err := s.deps.Runs.Start(context.WithoutCancel(r.Context()), wf, runs.StartOptions{
		Mode:    mode,
		Trigger: store.TriggerAPI,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	if wait {
		select {
		case <-run.Done():
			writeJSON(w, http.StatusOK, run.Wait())
		case <-r.Context().Done():
		}
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:      run.ID,
		WorkflowID: wf.ID,
		Mode:       run.Mode,
		Status:     schema.RunRunning,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		WorkflowID: q.Get("workflow_id"),
		Limit:      queryInt(r, "limit", 50),
	}
	if v := q.Get("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}
	list, err := s.deps.Runs.List(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Runs.Cancel(r.Context(), id); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}
