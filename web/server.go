package web

import (
	"context"
	"log"
	"net/http"

	"f0oster/dbspy/notify"
	"f0oster/dbspy/scan"
	"f0oster/dbspy/scheduler"
)

// PipelineInfo is the read side of the pipeline the API exposes.
type PipelineInfo interface {
	LatestChangeSet() *scan.ChangeSet
	SnapshotHistory(ctx context.Context, limit int) ([]scan.SnapshotMeta, error)
}

// SchedulerControl triggers and inspects the background scheduler.
type SchedulerControl interface {
	TriggerScanNow()
	Status() scheduler.Status
}

// Server handles HTTP requests for the pipeline API.
type Server struct {
	notifier *notify.Notifier
	pipe     PipelineInfo
	sched    SchedulerControl
	mux      *http.ServeMux
	addr     string
}

// NewServer creates a new API server instance.
func NewServer(notifier *notify.Notifier, pipe PipelineInfo, sched SchedulerControl, addr string) *Server {
	s := &Server{
		notifier: notifier,
		pipe:     pipe,
		sched:    sched,
		mux:      http.NewServeMux(),
		addr:     addr,
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/scan", s.handleTriggerScan)
	s.mux.HandleFunc("GET /api/scanner/status", s.handleScannerStatus)
	s.mux.HandleFunc("GET /api/scans", s.handleScanHistory)
	s.mux.HandleFunc("GET /api/scans/latest", s.handleLatestChanges)
	s.mux.HandleFunc("GET /api/notifications", s.handleListNotifications)
	s.mux.HandleFunc("GET /api/notifications/stats", s.handleNotificationStats)
	s.mux.HandleFunc("GET /api/notifications/{id}", s.handleGetNotification)
	s.mux.HandleFunc("POST /api/notifications/{id}/respond", s.handleRespond)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
