// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/zettelstack/internal/fetch"
	"github.com/starford/zettelstack/internal/index"
	"github.com/starford/zettelstack/internal/mcpserver"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/site"
	"github.com/starford/zettelstack/internal/sse"
	"github.com/starford/zettelstack/internal/storage"
)

// Version is reported by the MCP server.
var Version = "dev"

// Run serves the note site: pages, link index API, SSE and a shared viewer
// session.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("site_path", cfg.Site.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("query_param", cfg.Navigation.QueryParam),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure site directory exists.
	if err := os.MkdirAll(cfg.Site.Path, 0o755); err != nil {
		return fmt.Errorf("create site dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Site.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(sse.Options{GraphThrottle: 2 * time.Second})
	defer broker.Close()

	// The shared session reads the site directly; its address bar shows
	// the public origin.
	origin := cfg.Site.OriginURL()
	if cfg.Site.Origin == "" {
		origin.Host = "localhost" + cfg.App.HTTP.Address()
	}
	view, err := newViewer(cfg, fetch.NewStorageFetcher(store), origin, broker, logger)
	if err != nil {
		return err
	}
	defer view.Close()

	svc := site.NewService(store, db)
	apiRouter := site.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, view.nav)

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
		if _, err := db.ListNotes(1, 0); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	// Everything else is the note site itself.
	r.Handle("/*", site.NewPageHandler(svc))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the index current and tell SSE clients about changed notes.
	g.Go(func() error {
		err := index.Watch(gCtx, db, store, store.Root(), logger, func(kind string, id models.NoteID) {
			broker.PublishNoteEvent(kind, id)
		})
		if err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves a viewer session as MCP tools on stdin/stdout. Logs go to
// stderr so they never interleave with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	f, store, err := remoteOrLocal(cfg, app.client)
	if err != nil {
		return err
	}

	// Backlinks need the local index, which exists only for a local site.
	var db *index.DB
	if store != nil {
		db, err = index.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init index: %w", err)
		}
		defer db.Close()
		if err := index.Sync(db, store, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
	}

	view, err := newViewer(cfg, f, cfg.Site.OriginURL(), nil, logger)
	if err != nil {
		return err
	}
	defer view.Close()

	var links index.LinkIndex
	if db != nil {
		links = db
	}
	srv := mcpserver.New(view.nav, links, Version)

	logger.Info("MCP server starting on stdio",
		slog.String("site_path", cfg.Site.Path),
		slog.String("origin", cfg.Site.Origin))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// OpenStep is one interaction replayed by RunOpen after the page loads.
type OpenStep struct {
	Level int
	// Href follows a link; Node double-clicks a graph node instead.
	Href string
	Node string
}

// RunOpen loads address in a fresh session, replays steps and prints the
// resulting snapshot as JSON (or the document when html is set).
func RunOpen(ctx context.Context, address string, steps []OpenStep, html bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	f, _, err := remoteOrLocal(cfg, app.client)
	if err != nil {
		return err
	}
	view, err := newViewer(cfg, f, cfg.Site.OriginURL(), nil, logger)
	if err != nil {
		return err
	}
	defer view.Close()
	nav := view.nav

	if err := nav.Open(ctx, address); err != nil {
		return err
	}
	if err := nav.Idle(ctx); err != nil {
		return err
	}
	for _, st := range steps {
		var err error
		if st.Node != "" {
			_, err = nav.OpenGraphNode(ctx, st.Level, st.Node)
		} else {
			_, err = nav.FollowLink(ctx, st.Level, st.Href)
		}
		if err != nil {
			logger.Warn("step failed", slog.Int("level", st.Level), slog.String("error", err.Error()))
		}
		if err := nav.Idle(ctx); err != nil {
			return err
		}
	}

	if html {
		doc, err := nav.HTML(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(app.out, doc)
		return err
	}

	snap, err := nav.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
