package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter configures all API routes.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs/{id}/sourcing-runs", h.StartRun).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/links", h.ListLinks).Methods(http.MethodGet)
	v1.HandleFunc("/sourcing-runs", h.StartRun).Methods(http.MethodPost)
	v1.HandleFunc("/sourcing-runs/{id}", h.GetRun).Methods(http.MethodGet)
	v1.HandleFunc("/sourcing-runs/{id}/cancel", h.CancelRun).Methods(http.MethodPost)

	return r
}
