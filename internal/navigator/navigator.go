// Package navigator runs a stacked-notes viewer session: page load, link
// clicks, graph double-clicks and history traversal, all on one event loop.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/starford/zettelstack/internal/address"
	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/fetch"
	"github.com/starford/zettelstack/internal/history"
	"github.com/starford/zettelstack/internal/loop"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/parser"
	"github.com/starford/zettelstack/internal/render"
	"github.com/starford/zettelstack/internal/stack"
)

// rootLevels is the number of fixed levels above restored notes.
const rootLevels = 1

// Config wires a Navigator.
type Config struct {
	Loop    *loop.Loop
	Fetcher fetch.Fetcher
	// Browser defaults to an in-memory history starting at about:blank.
	Browser history.Browser
	Effects render.Effects
	Widgets render.WidgetFactory
	Events  Publisher

	Param        string
	Animation    time.Duration
	FetchTimeout time.Duration
	Parallel     int
	Logger       *slog.Logger
}

// Failure is a fetch that ended without a commit.
type Failure struct {
	IDs   []models.NoteID `json:"ids"`
	Error string          `json:"error"`
}

// Snapshot describes the session at one instant.
type Snapshot struct {
	Address  string                 `json:"address"`
	State    models.NavigationState `json:"state"`
	Panels   []render.PanelView     `json:"panels"`
	Failures []Failure              `json:"failures,omitempty"`
}

type routeResult struct {
	opened bool
	err    error
}

// Navigator owns a Stack Store, a Renderer Bridge, a Fetch Coordinator and
// a History Adapter. Every field below is touched only on the loop.
type Navigator struct {
	loop    *loop.Loop
	fetcher fetch.Fetcher
	browser history.Browser
	codec   *address.Codec
	history *history.Adapter
	events  Publisher
	cfg     Config
	logger  *slog.Logger

	store  *stack.Store
	bridge *render.Bridge
	coord  *fetch.Coordinator

	gen          uint64
	sessCtx      context.Context
	sessCancel   context.CancelFunc
	pendingLoads int
	pendingTicks int
	failures     []Failure
	lastRoute    *routeResult
}

// New builds a Navigator. Nothing is loaded until Open.
func New(cfg Config) (*Navigator, error) {
	if cfg.Loop == nil {
		return nil, errors.New("navigator: loop is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("navigator: fetcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Browser == nil {
		cfg.Browser = history.NewMemory(&url.URL{Scheme: "about", Opaque: "blank"})
	}
	if cfg.Events == nil {
		cfg.Events = nopPublisher{}
	}

	n := &Navigator{
		loop:    cfg.Loop,
		fetcher: cfg.Fetcher,
		browser: cfg.Browser,
		codec:   address.NewCodec(cfg.Param),
		events:  cfg.Events,
		cfg:     cfg,
		logger:  logger,
		store:   stack.New(),
	}
	n.history = history.NewAdapter(n.browser, n.codec, logger)
	n.sessCtx, n.sessCancel = context.WithCancel(context.Background())
	n.bridge = render.New(render.Config{
		Scheduler: n,
		OnLink:    n.route,
		IsOpen:    n.store.Contains,
		Param:     n.codec.Param(),
		Effects:   cfg.Effects,
		Widgets:   cfg.Widgets,
		Animation: cfg.Animation,
		Logger:    logger,
	})
	n.coord = n.newCoordinator()

	if h, ok := n.browser.(popStateSource); ok {
		h.OnPopState(n.history.PopState)
	}
	if h, ok := n.browser.(reloadSource); ok {
		h.OnReload(n.reload)
	}
	return n, nil
}

type popStateSource interface {
	OnPopState(fn func())
}

type reloadSource interface {
	OnReload(fn func(*url.URL))
}

type navigable interface {
	Navigate(u *url.URL)
}

type traverser interface {
	Back() bool
	Forward() bool
}

func (n *Navigator) newCoordinator() *fetch.Coordinator {
	return fetch.NewCoordinator(n.fetcher, n.loop, &session{n: n, gen: n.gen}, n.logger, fetch.Options{
		Base:     rootLevels,
		Timeout:  n.cfg.FetchTimeout,
		Parallel: n.cfg.Parallel,
	})
}

// AfterTick implements render.Scheduler and counts deferred work for Idle.
func (n *Navigator) AfterTick(fn func()) {
	n.pendingTicks++
	n.loop.AfterTick(func() {
		n.pendingTicks--
		fn()
	})
}

// Open loads raw as a new page, like typing it into the address bar. A
// relative raw is resolved against the current address. It returns once the
// root note is mounted; restored notes arrive asynchronously (see Idle).
func (n *Navigator) Open(ctx context.Context, raw string) error {
	done := make(chan error, 1)
	err := n.loop.Do(ctx, func() {
		u, err := url.Parse(raw)
		if err != nil {
			done <- fmt.Errorf("navigator: open %q: %w: %v", raw, apperr.ErrMalformedAddress, err)
			return
		}
		if !u.IsAbs() {
			u = n.browser.Location().ResolveReference(u)
		}
		if nv, ok := n.browser.(navigable); ok {
			nv.Navigate(u)
		}
		n.startLoad(u, func(err error) { done <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reload is the browser's reload hook; it runs on the loop.
func (n *Navigator) reload(u *url.URL) {
	n.startLoad(u, nil)
}

// startLoad begins a page load: every fetch of the previous page is
// abandoned and the root page is requested.
func (n *Navigator) startLoad(u *url.URL, done func(error)) {
	n.gen++
	gen := n.gen
	n.sessCancel()
	n.sessCtx, n.sessCancel = context.WithCancel(context.Background())
	n.coord = n.newCoordinator()
	n.pendingLoads++

	ctx := n.sessCtx
	rootID := models.IDFromURL(u)
	n.logger.Info("navigator: loading page", slog.String("url", u.String()))

	go func() {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if n.cfg.FetchTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, n.cfg.FetchTimeout)
		}
		page, err := n.fetcher.Fetch(rctx, rootID)
		cancel()
		posted := n.loop.Post(func() {
			n.pendingLoads--
			err := n.applyLoad(gen, u, page, err)
			if done != nil {
				done(err)
			}
		})
		if !posted && done != nil {
			done(loop.ErrClosed)
		}
	}()
}

func (n *Navigator) applyLoad(gen uint64, u *url.URL, page []byte, fetchErr error) error {
	rootID := models.IDFromURL(u)
	if gen != n.gen {
		n.logger.Debug("navigator: superseded page load discarded", slog.String("url", u.String()))
		return fmt.Errorf("navigator: load %s: %w", rootID, apperr.ErrStale)
	}
	if fetchErr != nil {
		n.logger.Warn("navigator: page load failed", slog.String("url", u.String()), slog.String("error", fetchErr.Error()))
		n.publish(EventLoadFailed, map[string]any{"url": u.String(), "error": fetchErr.Error()})
		return fmt.Errorf("navigator: load %s: %w", rootID, fetchErr)
	}

	root, err := n.bridge.Reset(page, u)
	if err != nil {
		n.logger.Warn("navigator: root page unusable", slog.String("url", u.String()), slog.String("error", err.Error()))
		return fmt.Errorf("navigator: load %s: %w", rootID, err)
	}
	n.store.Reset()
	n.store.Push(rootID, 1, root)
	n.failures = nil
	// Mount after the store reset so stale entries never highlight root links.
	n.bridge.Mount(root)

	state, err := n.codec.Decode(u)
	if err != nil {
		n.logger.Warn("navigator: malformed address, ignoring stack", slog.String("url", u.String()), slog.String("error", err.Error()))
		state = models.NavigationState{}
	}
	if i := state.Index(rootID); i >= 0 {
		n.logger.Debug("navigator: dropping root note from restored stack", slog.String("id", string(rootID)))
		state = append(state.Truncate(i), state[i+1:]...)
	}

	n.publish(EventLoaded, map[string]any{"url": u.String(), "restoring": state.Strings()})
	n.coord.FetchBatch(n.sessCtx, state)
	return nil
}

// route is the click pipeline shared by links and graph nodes.
func (n *Navigator) route(href string, level int) (bool, error) {
	opened, err := n.push(href, level)
	n.lastRoute = &routeResult{opened: opened, err: err}
	return opened, err
}

func (n *Navigator) push(href string, level int) (bool, error) {
	id, err := parser.ResolveHref(n.browser.Location(), href)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, fmt.Errorf("navigator: %q names no note: %w", href, apperr.ErrNotFound)
	}
	if depth := n.store.Depth(); level > depth+1 {
		level = depth + 1
	}
	if level <= rootLevels {
		level = rootLevels + 1
	}

	if !n.store.CanPush(id, level) {
		n.bridge.Blink(level-1, href)
		n.publish(EventAlreadyOpen, map[string]any{"id": string(id), "level": level})
		return false, fmt.Errorf("navigator: %s: %w", id, apperr.ErrAlreadyOpen)
	}

	chain := n.store.Chain(level)
	next := n.history.Push(chain, id, level)
	n.publish(EventPushed, map[string]any{"id": string(id), "level": level, "url": next.String()})
	n.coord.FetchOne(n.sessCtx, id, level)
	return true, nil
}

// FollowLink clicks the link with the given href inside the panel at level.
// It reports whether a fetch was issued; an already-open target yields
// ErrAlreadyOpen and a blink.
func (n *Navigator) FollowLink(ctx context.Context, level int, href string) (bool, error) {
	var (
		opened bool
		err    error
	)
	if derr := n.loop.Do(ctx, func() {
		opened, err = n.bridge.Click(level, href)
	}); derr != nil {
		return false, derr
	}
	return opened, err
}

// OpenGraphNode double-clicks nodeID in the graph of the panel at level.
func (n *Navigator) OpenGraphNode(ctx context.Context, level int, nodeID string) (bool, error) {
	var (
		opened bool
		err    error
	)
	if derr := n.loop.Do(ctx, func() {
		n.lastRoute = nil
		if err = n.bridge.DoubleClickNode(level, nodeID); err != nil {
			return
		}
		if n.lastRoute == nil {
			err = fmt.Errorf("navigator: graph at level %d: %w", level, apperr.ErrNotWired)
			return
		}
		opened, err = n.lastRoute.opened, n.lastRoute.err
	}); derr != nil {
		return false, derr
	}
	return opened, err
}

// Back traverses one history entry back; the page reloads at the new
// address. It reports false when there is nothing to go back to.
func (n *Navigator) Back(ctx context.Context) (bool, error) {
	return n.traverse(ctx, func(t traverser) bool { return t.Back() })
}

// Forward traverses one history entry forward.
func (n *Navigator) Forward(ctx context.Context) (bool, error) {
	return n.traverse(ctx, func(t traverser) bool { return t.Forward() })
}

func (n *Navigator) traverse(ctx context.Context, step func(traverser) bool) (bool, error) {
	t, ok := n.browser.(traverser)
	if !ok {
		return false, errors.New("navigator: browser has no history traversal")
	}
	var moved bool
	if err := n.loop.Do(ctx, func() { moved = step(t) }); err != nil {
		return false, err
	}
	return moved, nil
}

// State returns the ids of the open notes, root first.
func (n *Navigator) State(ctx context.Context) (models.NavigationState, error) {
	var s models.NavigationState
	err := n.loop.Do(ctx, func() { s = n.store.CurrentState() })
	return s, err
}

// Address returns the current browser address.
func (n *Navigator) Address(ctx context.Context) (*url.URL, error) {
	var u *url.URL
	err := n.loop.Do(ctx, func() { u = n.browser.Location() })
	return u, err
}

// Panel returns a view of the panel at level.
func (n *Navigator) Panel(ctx context.Context, level int) (render.PanelView, error) {
	var (
		v   render.PanelView
		err error
	)
	if derr := n.loop.Do(ctx, func() {
		p, ok := n.bridge.Panel(level)
		if !ok {
			err = fmt.Errorf("navigator: no panel at level %d: %w", level, apperr.ErrNotFound)
			return
		}
		v = p.View()
	}); derr != nil {
		return v, derr
	}
	return v, err
}

// HTML serializes the current document.
func (n *Navigator) HTML(ctx context.Context) (string, error) {
	var s string
	err := n.loop.Do(ctx, func() { s = n.bridge.HTML() })
	return s, err
}

// Snapshot returns address, stack, panels and the failures since the last
// page load.
func (n *Navigator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := n.loop.Do(ctx, func() {
		s = Snapshot{
			Address:  n.browser.Location().String(),
			State:    n.store.CurrentState(),
			Panels:   n.bridge.Panels(),
			Failures: append([]Failure(nil), n.failures...),
		}
	})
	return s, err
}

// Idle blocks until no page load, fetch or deferred tick is outstanding.
func (n *Navigator) Idle(ctx context.Context) error {
	ticker := time.NewTicker(n.loop.Tick())
	defer ticker.Stop()
	for {
		var busy bool
		if err := n.loop.Do(ctx, func() {
			busy = n.pendingLoads > 0 || n.pendingTicks > 0 || n.coord.InFlight() > 0
		}); err != nil {
			return err
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close abandons outstanding fetches. The loop is owned by the caller.
func (n *Navigator) Close() {
	_ = n.loop.Do(context.Background(), func() { n.sessCancel() })
}
