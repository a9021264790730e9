package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tendant/content-versions/internal/document"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/api"
)

func NewServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if migrate {
					if err := a.migrate(ctx); err != nil {
						return err
					}
				}
				return a.serve(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

// router mounts the document and content routes under /api/v1/documents
func (a *app) router() (http.Handler, error) {
	docs := document.NewHandler(a.repo, a.store, a.logger)
	content, err := api.NewContentHandler(api.Config[*document.Document]{
		Store:    a.store,
		Registry: a.registry,
		Load:     docs.Load,
		Tx:       a.repo,
		NotFound: document.ErrNotFound,
		Logger:   a.logger,
		ContentType: func(doc *document.Document, path contentstore.PropertyPath) string {
			if path.IsDefault() {
				return doc.MimeType
			}
			return ""
		},
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if a.metrics != nil {
		instrument, err := api.RequestMetrics(a.metrics)
		if err != nil {
			return nil, err
		}
		r.Use(instrument)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if a.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/documents", func(r chi.Router) {
		docs.Routes(r)
		content.Routes(r)
	})
	return r, nil
}

func (a *app) serve(ctx context.Context) error {
	handler, err := a.router()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    ":" + a.cfg.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "port", a.cfg.Port, "environment", a.cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server exited")
	return nil
}

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents and content tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.migrate(ctx)
			})
		},
	}
}
