// Package health provides the HTTP liveness and readiness endpoints.
//
// Docker and Kubernetes probe /healthz for liveness and /readyz before
// routing clients. Both report the number of live sessions.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port     int
	sessions func() int
	started  time.Time
	ready    atomic.Bool
	server   *http.Server
}

// New creates a new health check server. sessions reports the live session
// count and may be nil.
func New(port int, sessions func() int) *Server {
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	return &Server{port: port, sessions: sessions, started: time.Now()}
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

type status struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Started  string `json:"started"`
}

// Handler returns the probe routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	probe := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := status{Status: "ok", Sessions: s.sessions(), Started: humanize.Time(s.started)}
		if !s.ready.Load() {
			body.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(body)
	}
	mux.HandleFunc("GET /healthz", probe)
	mux.HandleFunc("GET /readyz", probe)
	return mux
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
