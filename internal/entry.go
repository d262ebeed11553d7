// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/wikigraph/internal/api"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/index"
	"github.com/starford/wikigraph/internal/mcpserver"
	"github.com/starford/wikigraph/internal/pageservice"
	"github.com/starford/wikigraph/internal/search"
	"github.com/starford/wikigraph/internal/sse"
	"github.com/starford/wikigraph/internal/storage"
	"github.com/starford/wikigraph/internal/writer"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Structured JSON logger. In stdio mode stdout carries the MCP stream.
	var logOut io.Writer = os.Stdout
	if cfg.App.Mode == ModeStdio {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("mode", cfg.App.Mode),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("wiki_path", cfg.Wiki.Path),
		slog.String("extension", cfg.Wiki.Extension),
		slog.String("search_path", cfg.Search.Path),
		slog.Int("workers", cfg.Sync.Workers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure wiki directory exists.
	if err := os.MkdirAll(cfg.Wiki.Path, 0o755); err != nil {
		return fmt.Errorf("create wiki dir: %w", err)
	}

	// Initialize storage.
	fsys, err := storage.NewFS(cfg.Wiki.Path, cfg.Wiki.Extension)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite search projection.
	db, err := search.Open(cfg.Search.Path)
	if err != nil {
		return fmt.Errorf("init search: %w", err)
	}
	defer db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Graph store and synchronization pipeline.
	store := graph.NewStore()
	engine := index.NewEngine(store, fsys, logger)
	projector := search.NewProjector(db, store, logger)
	engine.OnCommit(projector.OnCommit)
	engine.OnCommit(broker.OnCommit)
	sched := index.NewScheduler(engine, cfg.Sync.Workers, logger)
	watcher := index.NewWatcher(fsys, store, sched, cfg.Watch.Index(), logger)

	svc := pageservice.NewService(engine, sched, writer.New(fsys, logger), fsys, db, logger)

	g, gCtx := errgroup.WithContext(ctx)

	// Scheduler workers.
	g.Go(func() error {
		return sched.Run(gCtx)
	})

	// File watcher. Losing the root stops the watch but not the process:
	// the graph stays queryable as last synced.
	watchDone := make(chan struct{})
	g.Go(func() error {
		defer close(watchDone)
		err := watcher.Run(gCtx)
		if errors.Is(err, index.ErrWatchRootGone) {
			logger.Warn("watcher: root removed, watch stopped", slog.String("path", fsys.Root()))
			broker.Publish(sse.Event{Type: sse.WatchFailed, Data: map[string]string{
				"path":  fsys.Root(),
				"error": err.Error(),
			}})
			return nil
		}
		return err
	})

	// Initial scan once the watch is registered, so nothing edited during
	// the scan is missed. Both go through the scheduler.
	select {
	case <-watcher.Ready():
	case <-watchDone:
	case <-gCtx.Done():
	}
	if err := sched.Scan(gCtx); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	} else if _, err := projector.Reconcile(); err != nil {
		logger.Warn("search reconcile failed", slog.String("error", err.Error()))
	}
	logger.Info("Graph ready", slog.Int("pages", len(store.Pages())), slog.Uint64("version", store.Version()))

	switch cfg.App.Mode {
	case ModeStdio:
		runStdio(gCtx, g, mcpserver.New(svc, app.version), logger)
	default:
		runHTTP(gCtx, g, cfg, svc, broker, logger)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errStdioClosed) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errStdioClosed stops the errgroup when the MCP client goes away.
var errStdioClosed = errors.New("mcp stdio closed")

func runStdio(ctx context.Context, g *errgroup.Group, srv *mcpserver.Server, logger *slog.Logger) {
	g.Go(func() error {
		logger.Info("Starting MCP stdio server")
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ServeStdio() }()
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return errStdioClosed
		case <-ctx.Done():
			return nil
		}
	})
	waitSignal(ctx, g, logger, nil)
}

func runHTTP(ctx context.Context, g *errgroup.Group, cfg *Config, svc *pageservice.Service, broker *sse.Broker, logger *slog.Logger) {
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	waitSignal(ctx, g, logger, func() {
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
	})
}

// waitSignal blocks a group member until SIGINT/SIGTERM or ctx is done, then
// runs stop and cancels the rest of the group.
func waitSignal(ctx context.Context, g *errgroup.Group, logger *slog.Logger, stop func()) {
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if stop != nil {
			stop()
		}
		return context.Canceled
	})
}
