// Package api implements the Management API (component H): a small
// read-mostly HTTP surface for operators and orchestrators, separate from
// the xDS gRPC port Envoy speaks to.
//
// Uses the standard library's net/http.ServeMux with Go 1.22+
// method-pattern routing ("GET /healthz" style).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gatewayd/gatewayd/internal/snapshot"
)

// Server is the Management API.
type Server struct {
	store *snapshot.Store
	log   *slog.Logger

	ready atomic.Bool
}

// New constructs a Management API server backed by store. ready starts
// false; call MarkReady once the Reconciler has completed its first tick.
func New(store *snapshot.Store, log *slog.Logger) *Server {
	return &Server{store: store, log: log}
}

// MarkReady flips the readiness flag. Called once, after the Reconciler's
// first tick completes (success or logged failure) — /readyz never blocks
// waiting on the registry beyond that first attempt.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// Handler builds the request router. Exposes:
//
//   - GET /healthz — process liveness, 200 as soon as the listener is up.
//   - GET /readyz  — 200 once the Reconciler has completed at least one tick.
//   - GET /config  — JSON dump of the current snapshot's routes and clusters.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /config", s.handleConfig)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "reconciler has not completed a tick yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.GetConfig()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"routes":   cfg.Routes,
		"clusters": cfg.Clusters,
	}); err != nil {
		s.log.Error("failed to encode config response", "error", err)
	}
}
