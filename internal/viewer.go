package internal

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/starford/zettelstack/internal/fetch"
	"github.com/starford/zettelstack/internal/history"
	"github.com/starford/zettelstack/internal/loop"
	"github.com/starford/zettelstack/internal/navigator"
	"github.com/starford/zettelstack/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger and installs it as default.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// viewer is a headless navigator session with the loop it runs on.
type viewer struct {
	nav  *navigator.Navigator
	loop *loop.Loop
}

func (v *viewer) Close() {
	v.nav.Close()
	v.loop.Close()
}

// newViewer starts a navigator whose address bar begins at origin.
func newViewer(cfg *Config, f fetch.Fetcher, origin *url.URL, events navigator.Publisher, logger *slog.Logger) (*viewer, error) {
	l := loop.New(cfg.Navigation.Tick, logger)
	nav, err := navigator.New(navigator.Config{
		Loop:         l,
		Fetcher:      f,
		Browser:      history.NewMemory(origin),
		Events:       events,
		Param:        cfg.Navigation.QueryParam,
		Animation:    cfg.Navigation.Animation,
		FetchTimeout: cfg.Navigation.FetchTimeout,
		Parallel:     cfg.Navigation.Parallel,
		Logger:       logger,
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("init navigator: %w", err)
	}
	return &viewer{nav: nav, loop: l}, nil
}

// remoteOrLocal picks the note source for a standalone session: the
// configured origin over HTTP, or the site directory when no origin is set.
func remoteOrLocal(cfg *Config, client *http.Client) (fetch.Fetcher, storage.Provider, error) {
	if cfg.Site.Origin != "" {
		f, err := fetch.NewHTTPFetcher(cfg.Site.Origin, client)
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	}
	store, err := storage.NewFS(cfg.Site.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	return fetch.NewStorageFetcher(store), store, nil
}
