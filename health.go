package siridb

import (
	"encoding/json"
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi"
)

// HealthServer serves the plain-HTTP status endpoints spec §6.6 carves
// out as an external collaborator's interface boundary: /status (JSON:
// attached database names and the engine's closing flag), /ready (200
// unless the Ready callback is set and reports false, then 503) and
// /healthy (200 until Engine.Shutdown has been called, then 503).
type HealthServer struct {
	Engine *Engine
	Ready  func() bool
}

type statusResponse struct {
	Databases []string `json:"databases"`
	Closing   bool     `json:"closing"`
}

// Handler builds the chi router, gzip-wrapped per §6.6.
func (h *HealthServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Get("/ready", h.handleReady)
	r.Get("/healthy", h.handleHealthy)
	return gziphandler.GzipHandler(r)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	dbs := h.Engine.Databases()
	names := make([]string, 0, len(dbs))
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Databases: names, Closing: h.Engine.Closing()})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil && !h.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HealthServer) handleHealthy(w http.ResponseWriter, r *http.Request) {
	if h.Engine.Closing() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
