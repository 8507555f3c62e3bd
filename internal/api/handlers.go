package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/store"
)

// RunHandler serves stored runs.
type RunHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRunHandler creates a run handler.
func NewRunHandler(st *store.Store, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{store: st, logger: logger}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListRunsResponse is the body of GET /v1/runs.
type ListRunsResponse struct {
	Runs []store.Run `json:"runs"`
}

// ModelResponse is the body of GET /v1/runs/{id}/model.
type ModelResponse struct {
	RunID     string      `json:"run_id"`
	ModelHash string      `json:"model_hash"`
	Graph     merge.Graph `json:"graph"`
}

// ListRuns handles GET /v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

// GetRun handles GET /v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetModel handles GET /v1/runs/{id}/model
//
// With ?canonical=1 the bare graph is returned as canonical JSON, byte for
// byte what the model hash covers.
func (h *RunHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.store.ReadGraph(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if r.URL.Query().Get("canonical") == "1" {
		data, err := canon.Marshal(g)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Model-Hash", run.ModelHash)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, ModelResponse{RunID: id, ModelHash: run.ModelHash, Graph: g})
}

// GetErrors handles GET /v1/runs/{id}/errors
func (h *RunHandler) GetErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := h.store.ReadErrors(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

// GetEvents handles GET /v1/runs/{id}/events
func (h *RunHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ReadEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *RunHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: err.Error()})
		return
	}
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
