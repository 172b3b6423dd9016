// Package core provides the API chassis for the bridge daemon: a chi router
// with cross-cutting concerns -- request identity, logging, panic recovery,
// and error handling -- applied before requests reach the billing handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"playbridge/internal/config"
)

// Server encapsulates the HTTP dependencies for the bridge API, allowing for
// easy injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	router *chi.Mux
}

// NewServer initializes the router and middleware chain. The caller is
// responsible for mounting routes via Router() after construction; this
// separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	s.router.Use(Recoverer(logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
	})

	return s, nil
}

// Router returns the chi router for route mounting.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is canceled, then performs a
// graceful shutdown bounded by the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
