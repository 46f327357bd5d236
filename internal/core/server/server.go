package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/health"
	middleware "github.com/mohammed-shakir/sparql-map-explorer/internal/core/middleware"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/router"
)

type Options struct {
	Addr   string
	Logger *slog.Logger
	API    *router.API
	Checks []health.Check
	// Gatherer backs /metrics; nil means the default registry
	Gatherer prometheus.Gatherer
	// WriteTimeout must exceed the SPARQL execute timeout
	WriteTimeout time.Duration
}

func Handler(o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(o.Logger))
	r.Use(middleware.Logging(o.Logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(o.Checks...))
	if o.Gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	} else {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	if o.API != nil {
		o.API.Mount(r)
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, o Options) error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:              o.Addr,
		Handler:           Handler(o),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      o.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		o.Logger.Info("http listen", "addr", o.Addr)
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
