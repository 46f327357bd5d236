package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/cache/redisstore"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/catalog"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/catalogsync"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/health"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/router"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/server"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/queryevents"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the explorer HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	reg := observability.NewRegistry(observability.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})
	observability.Init(reg)

	a.logger.Info("starting map explorer",
		"addr", cfg.Addr,
		"version", Version,
		"endpoint", cfg.SPARQLEndpoint,
		"strict_order", cfg.StrictResultOrder)

	exec, err := a.executor()
	if err != nil {
		return err
	}

	var (
		loader catalog.Loader = catalog.New(exec)
		checks []health.Check
	)
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("catalog store: %w", err)
		}
		defer func() { _ = rc.Close() }()
		store := catalog.NewRedisStore(rc, cfg.SPARQLEndpoint, cfg.CatalogTTL)
		loader = catalog.WithStore(loader, store, a.logger)
		checks = append(checks, health.Check{Name: "redis", Fn: rc.Ping})

		if cfg.CatalogSyncEnabled {
			consumer := catalogsync.New(catalogsync.Config{
				Brokers:  cfg.KafkaBrokers,
				Topic:    cfg.CatalogSyncTopic,
				GroupID:  cfg.CatalogSyncGroup,
				Endpoint: cfg.SPARQLEndpoint,
			}, a.logger, store)
			go func() {
				if err := consumer.Start(ctx); err != nil {
					a.logger.Error("catalog sync stopped", "err", err)
				}
			}()
		}
	}

	var events queryevents.Sink = queryevents.Discard{}
	if cfg.EventsEnabled {
		p, err := queryevents.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 0, a.logger)
		if err != nil {
			return err
		}
		events = p
	}
	defer func() {
		if err := events.Close(); err != nil {
			a.logger.Warn("query events close", "err", err)
		}
	}()

	sessions, err := session.NewRegistry(cfg.SessionCapacity, func(id string) *session.Coordinator {
		return session.New(session.Deps{
			ID:             id,
			Logger:         a.logger,
			Bounds:         a.bounds(),
			Center:         a.center(),
			Executor:       exec,
			Catalog:        loader,
			Endpoint:       cfg.SPARQLEndpoint,
			DebugBase:      cfg.SPARQLDebugURL,
			StrictOrder:    cfg.StrictResultOrder,
			ExecuteTimeout: cfg.ExecuteTimeout,
			Events:         events,
			CellRes:        cfg.EventsH3Res,
		})
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	err = server.Run(ctx, server.Options{
		Addr:         cfg.Addr,
		Logger:       a.logger,
		API:          router.New(a.logger, sessions),
		Checks:       checks,
		Gatherer:     reg,
		WriteTimeout: cfg.ExecuteTimeout + 30*time.Second,
	})
	if err != nil {
		a.logger.Error("server exited with error", "err", err)
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
