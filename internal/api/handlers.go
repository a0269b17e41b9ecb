// Package api exposes sourcing runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/sourcing"
	"github.com/spigell/talent-sourcer/internal/store"
)

const maxRequestBytes = 1 << 20

type executor interface {
	Submit(ctx context.Context, req sourcing.Request) (*models.Run, error)
	Cancel(runID string) error
}

type Handler struct {
	executor executor
	runs     store.RunStore
	jobs     store.JobStore
	links    store.LinkStore
	logger   *zap.Logger
}

func NewHandler(exec executor, runs store.RunStore, jobs store.JobStore, links store.LinkStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{executor: exec, runs: runs, jobs: jobs, links: links, logger: logger}
}

// StartRunRequest is the body of POST /v1/jobs/{id}/sourcing-runs.
type StartRunRequest struct {
	JobID       string   `json:"job_id,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	References  []string `json:"references"`
	TargetCount int      `json:"target_count,omitempty"`
	Budget      float64  `json:"budget,omitempty"`
}

type StartRunResponse struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartRun handles POST /v1/jobs/{id}/sourcing-runs and POST /v1/sourcing-runs.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID := body.JobID
	if id := mux.Vars(r)["id"]; id != "" {
		jobID = id
	}

	if jobID != "" && h.jobs != nil {
		if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			h.logger.Error("failed to load job", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
	}

	run, err := h.executor.Submit(r.Context(), sourcing.Request{
		JobID:       jobID,
		Intent:      body.Intent,
		References:  body.References,
		TargetCount: body.TargetCount,
		Budget:      body.Budget,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: run.ID, Status: run.Status})
	case errors.Is(err, sourcing.ErrNoReferences), errors.Is(err, sourcing.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sourcing.ErrQueueFull), errors.Is(err, sourcing.ErrExecutorState):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("failed to submit run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit run")
	}
}

// GetRun handles GET /v1/sourcing-runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to load run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// CancelRun handles POST /v1/sourcing-runs/{id}/cancel.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.executor.Cancel(id); err != nil {
		if errors.Is(err, sourcing.ErrNotRunning) {
			writeError(w, http.StatusConflict, "run is not active")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// ListLinks handles GET /v1/jobs/{id}/links.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	links, err := h.links.ListLinks(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list links", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list links")
		return
	}
	if links == nil {
		links = []*models.Link{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "links": links})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
