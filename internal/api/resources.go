package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/internal/secrets"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

// --- Lessons ---

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListLessons(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*schema.Lesson{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePutLesson(w http.ResponseWriter, r *http.Request) {
	var l schema.Lesson
	if err := decodeJSON(r, &l); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l.ID = chi.URLParam(r, "id")
	if strings.TrimSpace(l.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.deps.Store.SaveLesson(r.Context(), &l); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	l, err := s.deps.Store.GetLesson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteLesson(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Providers ---

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusNotFound, "provider configs are not enabled")
		return
	}
	list, err := s.deps.Providers.List(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*schema.ProviderConfig{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleListCircuits reports the AI provider circuit breakers.
func (s *Server) handleListCircuits(w http.ResponseWriter, _ *http.Request) {
	out := []actions.CircuitStats{}
	if s.deps.Circuits != nil {
		out = append(out, s.deps.Circuits()...)
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePutProvider stores a provider config. The key is never echoed back.
func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusNotFound, "provider configs are not enabled")
		return
	}
	var cfg schema.ProviderConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.ID = chi.URLParam(r, "id")
	if err := s.deps.Providers.SetProviderConfig(r.Context(), &cfg); err != nil {
		writeFlowError(w, err)
		return
	}
	cfg.APIKey = secrets.MaskKey(cfg.APIKey)
	writeJSON(w, http.StatusOK, cfg)
}

// --- Schedules ---

type createScheduleRequest struct {
	WorkflowID     string `json:"workflow_id"`
	CronExpression string `json:"cron_expression"`
	Mode           string `json:"mode,omitempty"`
}

type updateScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := store.ScheduleFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      queryInt(r, "limit", 100),
	}
	list, err := s.deps.Store.ListSchedules(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*store.Schedule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler is not enabled")
		return
	}
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WorkflowID == "" || req.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "workflow_id and cron_expression are required")
		return
	}
	if _, err := s.deps.Store.GetWorkflow(r.Context(), req.WorkflowID); err != nil {
		writeFlowError(w, err)
		return
	}
	sc, err := s.deps.Scheduler.Add(r.Context(), req.WorkflowID, req.CronExpression, req.Mode)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler is not enabled")
		return
	}
	var req updateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Scheduler.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeFlowError(w, err)
		return
	}
	sc, err := s.deps.Store.GetSchedule(r.Context(), id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler is not enabled")
		return
	}
	if err := s.deps.Scheduler.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Kinds ---

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Kinds == nil {
		writeError(w, http.StatusNotFound, "kind listing is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Kinds())
}
