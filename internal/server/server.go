package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/backyonatan-alt/sitewatch/internal/cache"
	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Monitor is the monitoring pipeline as seen by the HTTP layer.
type Monitor interface {
	Run(ctx context.Context) (model.RunResult, error)
	Snapshots(ctx context.Context, projectID string) ([]model.Snapshot, error)
	History(ctx context.Context, projectID string, start, end model.Date, intervalDays int) ([]model.Snapshot, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	allowedOrigins []string
	monitor        Monitor
	cache          *cache.Cache
	metrics        http.Handler
}

// New builds the server. metricsHandler may be nil to disable /metrics.
func New(allowedOrigins []string, monitor Monitor, cache *cache.Cache, metricsHandler http.Handler) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	return &Server{
		allowedOrigins: allowedOrigins,
		monitor:        monitor,
		cache:          cache,
		metrics:        metricsHandler,
	}
}

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/monitoring/run", s.handleRun).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/monitoring/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/projects/{id}/snapshots", s.handleSnapshots).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/projects/{id}/history", s.handleHistory).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}
