// Package server hosts the local read-only HTTP surface started by
// `lectern serve`: a health endpoint and a job-status proxy for dashboards
// that cannot talk to the backend directly.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/lecternhq/lectern/internal/errors"
	"github.com/lecternhq/lectern/internal/server/handlers"
	"github.com/lecternhq/lectern/internal/server/middleware"
)

// Options configure a Server beyond its listen address.
type Options struct {
	Version string
	// Fetcher backs the job-status proxy; nil disables the route.
	Fetcher handlers.StatusFetcher
	// Checkers are registered on the health endpoint by name.
	Checkers map[string]handlers.Checker
}

// Server is the local HTTP surface.
type Server struct {
	host    string
	port    int
	handler http.Handler
}

// New builds a Server with the standard middleware chain and routes.
func New(host string, port int, opts Options) *Server {
	health := handlers.NewHealthManager(opts.Version)
	for name, c := range opts.Checkers {
		health.RegisterChecker(name, c)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Write(w, http.StatusNotFound, apperrors.CodeNotFound,
			"no such route: "+req.URL.Path,
			middleware.GetRequestID(req.Context()))
	})

	r.Get("/health", health.HealthHandler)
	if opts.Fetcher != nil {
		r.Get("/v1/jobs/{jobID}", handlers.JobStatus(opts.Fetcher))
	}

	return &Server{host: host, port: port, handler: r}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns the listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, readTimeout, writeTimeout, idleTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
