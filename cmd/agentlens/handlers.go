package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/analytics"
	"github.com/BaSui01/agentlens/backfill"
	"github.com/BaSui01/agentlens/evaluation"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/trace"
	"github.com/BaSui01/agentlens/types"
)

// server exposes the pipeline over a small JSON API.
type server struct {
	exporter  *trace.Exporter
	liveEval  *evaluation.Service
	processor *backfill.Processor
	engine    *analytics.Engine
	logger    *zap.Logger
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/traces", s.handleExport)
	mux.HandleFunc("POST /v1/evaluations", s.handleEvaluate)
	mux.HandleFunc("POST /v1/backfill/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/backfill/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/backfill/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/analytics", s.handleAnalytics)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var history trace.ExecutionHistory
	if err := json.NewDecoder(r.Body).Decode(&history); err != nil {
		s.writeError(w, types.NewError(types.ErrHistoryMalformed, "invalid request body").WithCause(err))
		return
	}
	result, err := s.exporter.Export(r.Context(), &history)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// evaluateRequest carries one response to score with the workspace's
// active metrics.
type evaluateRequest struct {
	WorkspaceID   string                `json:"workspace_id"`
	TaskID        string                `json:"task_id"`
	ResponseID    string                `json:"response_id"`
	ResponseIndex int                   `json:"response_index"`
	TaskInput     json.RawMessage       `json:"task_input"`
	TaskOutput    json.RawMessage       `json:"task_output"`
	Performance   types.PerformanceData `json:"performance_data"`
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body").WithCause(err))
		return
	}
	if req.WorkspaceID == "" || req.TaskID == "" || req.ResponseID == "" {
		s.writeError(w, types.NewError(types.ErrConfigInvalid,
			"workspace_id, task_id, and response_id are required"))
		return
	}
	results, err := s.liveEval.EvaluateResponse(r.Context(),
		evaluation.Target{
			WorkspaceID:   req.WorkspaceID,
			TaskID:        req.TaskID,
			ResponseID:    req.ResponseID,
			ResponseIndex: req.ResponseIndex,
		},
		&evaluation.Sample{
			TaskInput:   req.TaskInput,
			TaskOutput:  req.TaskOutput,
			Performance: req.Performance,
		})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req backfill.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body").WithCause(err))
		return
	}
	job, err := s.processor.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.processor.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		s.writeError(w, types.NewError(types.ErrConfigInvalid, "workspace_id is required"))
		return
	}
	jobs, err := s.processor.ListJobs(r.Context(), workspaceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		s.writeError(w, types.NewError(types.ErrConfigInvalid, "workspace_id is required"))
		return
	}
	filters := analytics.Filters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
		DateRange:    analytics.DateRange(q.Get("date_range")),
	}
	for _, t := range q["metric_type"] {
		filters.MetricTypes = append(filters.MetricTypes, types.MetricType(t))
	}
	report, err := s.engine.GetAnalytics(r.Context(), workspaceID, filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var te *types.Error
	switch {
	case errors.As(err, &te):
		body["code"] = te.Code
		switch {
		case types.IsConfigError(err), te.Code == types.ErrHistoryMalformed:
			status = http.StatusBadRequest
		case te.Code == types.ErrJobNotFound:
			status = http.StatusNotFound
		case te.Retryable:
			status = http.StatusServiceUnavailable
		}
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, body)
}
