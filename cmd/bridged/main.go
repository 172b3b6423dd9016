// Package main is the entry point for the billing bridge daemon.
//
// It loads configuration, wires the connection gate and command dispatcher
// over the vendor billing gateway, builds the HTTP server with the core
// chassis (middleware, routing, health checks), and starts listening for
// requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"playbridge/internal/api/handlers"
	"playbridge/internal/bridge"
	"playbridge/internal/catalog"
	"playbridge/internal/config"
	"playbridge/internal/core"
	"playbridge/internal/external"
	"playbridge/internal/gate"
	"playbridge/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("billing bridge starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	httpClient := &http.Client{Timeout: cfg.Gateway.Timeout}
	cache := catalog.NewCache()

	// The connector factory needs the dispatcher as its update listener, and
	// the dispatcher needs the gate built from the factory. The dispatcher
	// variable is bound late: the factory only runs once a command reaches
	// the gate, by which point the dispatcher exists.
	var dispatcher *bridge.Dispatcher
	factory := func(opts types.ConnectionOptions) external.Connector {
		conn := external.NewGatewayConnector(httpClient, external.GatewayConnectorConfig{
			BaseURL:      cfg.Gateway.BaseURL,
			APIKey:       cfg.Gateway.APIKey,
			Options:      opts,
			PollInterval: cfg.Gateway.UpdatePollInterval,
			Logger:       logger,
		})
		if dispatcher != nil {
			conn.SetUpdateListener(dispatcher)
		}
		return conn
	}

	connGate := gate.New(factory, logger)
	connGate.SetDefaultOptions(types.ConnectionOptions{
		AlternativeBillingEnabled: cfg.Gateway.AlternativeBillingEnabled,
	})
	dispatcher = bridge.New(connGate, cache, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	billingHandler := handlers.NewBillingHandler(dispatcher, srv.Validator, logger)
	eventsHandler := handlers.NewEventsHandler(dispatcher, logger)
	srv.Router().Route("/v1", func(r chi.Router) {
		billingHandler.RegisterRoutes(r)
		eventsHandler.RegisterRoutes(r)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("billing bridge stopped")
	return nil
}

// newLogger builds the process-wide structured logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
