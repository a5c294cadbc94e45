package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/lessonflow/pkg/schema"
)

type validateResponse struct {
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors"`
	Warnings []schema.ValidationIssue `json:"warnings"`
}

func newValidateResponse(res *schema.ValidationResult) validateResponse {
	out := validateResponse{Valid: res.Valid(), Errors: res.Errors, Warnings: res.Warnings}
	if out.Errors == nil {
		out.Errors = []schema.ValidationIssue{}
	}
	if out.Warnings == nil {
		out.Warnings = []schema.ValidationIssue{}
	}
	return out
}

// handleValidateWorkflow always answers 200; validity is in the body.
func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf, res := s.deps.Validator.Decode(data)
	if res == nil {
		res = s.deps.Validator.Validate(wf)
	}
	writeJSON(w, http.StatusOK, newValidateResponse(res))
}

func (s *Server) handlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf, res := s.deps.Validator.Decode(data)
	if res == nil {
		wf.ID = chi.URLParam(r, "id")
		res = s.deps.Validator.Validate(wf)
	}
	if !res.Valid() {
		writeFlowError(w, res.ToError())
		return
	}
	if err := s.deps.Store.SaveWorkflow(r.Context(), wf); err != nil {
		writeFlowError(w, err)
		return
	}
	saved, err := s.deps.Store.GetWorkflow(r.Context(), wf.ID)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListWorkflows(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*schema.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteWorkflow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
