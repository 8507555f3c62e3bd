// Package api is the read-only HTTP interface over a run store.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/weave/internal/store"
)

// SetupRoutes registers the /v1 routes on r.
func SetupRoutes(r *mux.Router, st *store.Store, logger *slog.Logger) {
	runs := NewRunHandler(st, logger)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/runs", runs.ListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", runs.GetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/model", runs.GetModel).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/errors", runs.GetErrors).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/events", runs.GetEvents).Methods(http.MethodGet)
}

// NewRouter returns the API router, including a /health probe.
func NewRouter(st *store.Store, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	SetupRoutes(r, st, logger)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return r
}
