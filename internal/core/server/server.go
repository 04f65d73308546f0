// Package server wires the chi router and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/overpass-layer/internal/core/health"
	middleware "github.com/mohammed-shakir/overpass-layer/internal/core/middleware"
	"github.com/mohammed-shakir/overpass-layer/internal/core/router"
)

type Options struct {
	Addr string
	// LayerName tags request logs.
	LayerName string
	// Metrics defaults to the global Prometheus handler.
	Metrics http.Handler
	Ready   map[string]health.Check
	Routes  router.Deps
}

// Handler builds the full route table.
func Handler(logger *slog.Logger, o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger, o.LayerName))
	r.Use(middleware.CORS())

	metrics := o.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(o.Ready))
	r.Method(http.MethodGet, "/metrics", metrics)

	if o.Routes.Logger == nil {
		o.Routes.Logger = logger
	}
	router.Mount(r, o.Routes)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, logger *slog.Logger, o Options) error {
	srv := &http.Server{
		Addr:              o.Addr,
		Handler:           Handler(logger, o),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", o.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
