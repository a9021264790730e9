package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tendant/content-versions/internal/document"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/config"
	"github.com/tendant/content-versions/pkg/contentstore/driver/pglo"
	"github.com/tendant/content-versions/pkg/contentstore/session/memory"
	"github.com/tendant/content-versions/pkg/contentstore/session/postgres"
)

// app holds the wired components shared by every command
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *prometheus.Registry

	registry *contentstore.Registry
	pool     *pgxpool.Pool
	driver   contentstore.Driver
	repo     document.Repository
	store    *contentstore.LockingStore[*document.Document]
	closers  []config.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	registry := contentstore.NewRegistry()
	a.registry = registry
	if err := document.Register(registry); err != nil {
		return nil, err
	}

	var metrics *contentstore.Metrics
	if cfg.Metrics {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = contentstore.NewMetrics(a.metrics); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	switch cfg.DatabaseType {
	case config.DatabasePostgres:
		if a.pool, err = cfg.OpenPool(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { a.pool.Close(); return nil })
		if a.repo, err = document.NewPostgresRepository(a.pool, registry, postgres.WithLogger(logger)); err != nil {
			return nil, err
		}
	default:
		a.repo = document.NewMemoryRepository(memory.NewDatabase(registry, logger))
	}

	var closeDriver config.Closer
	if a.driver, closeDriver, err = cfg.BuildDriver(ctx, a.pool); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeDriver)

	placement, err := cfg.BuildPlacement()
	if err != nil {
		return nil, err
	}
	hooks := contentstore.MergeHooks(document.Hooks(nil), contentstore.LoggingHooks(logger))

	store, err := contentstore.New[*document.Document](
		contentstore.WithDriver(a.driver),
		contentstore.WithPlacement(placement),
		contentstore.WithRegistry(registry),
		contentstore.WithLogger(logger),
		contentstore.WithMetrics(metrics),
		contentstore.WithHooks(hooks),
	)
	if err != nil {
		return nil, err
	}
	a.store, err = contentstore.NewLockingStore[*document.Document](store, a.repo.Session(),
		contentstore.WithLogger(logger),
		contentstore.WithMetrics(metrics),
		contentstore.WithHooks(hooks),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("content store ready",
		"database", cfg.DatabaseType, "storage", a.driver.Name(), "placement", cfg.Placement)
	return a, nil
}

// migrate creates the documents table and, for large object storage, the blob table
func (a *app) migrate(ctx context.Context) error {
	repo, ok := a.repo.(*document.PostgresRepository)
	if !ok {
		a.logger.Info("memory database needs no migration")
		return nil
	}
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	if d, ok := a.driver.(*pglo.Driver); ok {
		if err := d.Migrate(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("migration complete")
	return nil
}

func (a *app) Close(ctx context.Context) error {
	return config.CloseAll(ctx, a.closers...)
}
