package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server exposes health and metrics endpoints.
type Server struct {
	httpServer *http.Server
	checker    *HealthChecker
	port       int
}

// NewServer creates a new observability server
func NewServer(port int, checker *HealthChecker) *Server {
	return &Server{
		port:    port,
		checker: checker,
	}
}

// Start starts the observability server
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.checker.HealthHandler())
	mux.Handle("/metrics", MetricsHandler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
