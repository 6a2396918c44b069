package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
)

// Item is fetched content ready to be committed at a level.
type Item struct {
	ID      models.NoteID
	Content []byte
	Level   int
}

// Sink receives committed results. All methods are called on the event loop.
type Sink interface {
	// Chain returns the identifiers currently open below level.
	Chain(level int) models.NavigationState
	// Commit renders a single result.
	Commit(item Item) error
	// CommitBatch renders every item, in order, or none of them.
	CommitBatch(items []Item) error
	// Fail reports that a fetch for ids ended without a commit.
	Fail(ids []models.NoteID, err error)
}

// Poster queues work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Options tunes a Coordinator.
type Options struct {
	// Base is the number of fixed levels above which batches start; batch
	// item i commits at level Base+i+1.
	Base int
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
	// Parallel caps concurrent requests within a batch. Zero means no cap.
	Parallel int
}

// task is the immutable snapshot a single fetch carries from issuance to
// commit.
type task struct {
	id    models.NoteID
	level int
	seq   uint64
	chain models.NavigationState
}

// batch is a PendingFetchBatch: ordered ids, outstanding count and one slot
// per index.
type batch struct {
	seq         uint64
	ids         []models.NoteID
	slots       [][]byte
	outstanding int
	failed      error
	superseded  bool
	chain       models.NavigationState
	cancel      context.CancelFunc
}

func (b *batch) deepest(base int) int {
	return base + len(b.ids)
}

// Coordinator issues fetches and decides which completions may commit.
//
// Issuance and completion bookkeeping run on the event loop; only the
// network requests run on their own goroutines. A newer request at a level
// supersedes every pending request at that level or deeper, and a result is
// committed only if its snapshot still matches the live ancestor chain.
type Coordinator struct {
	fetcher Fetcher
	poster  Poster
	sink    Sink
	logger  *slog.Logger
	opts    Options

	seq      uint64
	latest   map[int]uint64
	batch    *batch
	inflight int
}

// NewCoordinator wires a coordinator.
func NewCoordinator(f Fetcher, p Poster, s Sink, logger *slog.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		fetcher: f,
		poster:  p,
		sink:    s,
		logger:  logger,
		opts:    opts,
		latest:  make(map[int]uint64),
	}
}

// InFlight returns the number of requests whose completion has not been
// processed yet.
func (c *Coordinator) InFlight() int {
	return c.inflight
}

func (c *Coordinator) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout > 0 {
		return context.WithTimeout(ctx, c.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// FetchOne requests id for level. The completion commits only if this is
// still the latest request for level and the ancestor chain is unchanged.
func (c *Coordinator) FetchOne(ctx context.Context, id models.NoteID, level int) {
	c.seq++
	t := task{id: id, level: level, seq: c.seq, chain: c.sink.Chain(level)}

	for l := range c.latest {
		if l >= level {
			delete(c.latest, l)
		}
	}
	c.latest[level] = t.seq
	if b := c.batch; b != nil && level <= b.deepest(c.opts.Base) {
		b.superseded = true
		b.cancel()
	}

	c.inflight++
	c.logger.Debug("fetch: request issued",
		slog.String("id", string(id)), slog.Int("level", level), slog.Uint64("seq", t.seq))

	go func() {
		rctx, cancel := c.requestCtx(ctx)
		data, err := c.fetcher.Fetch(rctx, id)
		cancel()
		if !c.poster.Post(func() { c.finishOne(t, data, err) }) {
			c.logger.Debug("fetch: completion dropped, loop closed", slog.String("id", string(id)))
		}
	}()
}

func (c *Coordinator) finishOne(t task, data []byte, err error) {
	c.inflight--

	current := c.latest[t.level] == t.seq
	if current {
		delete(c.latest, t.level)
	}

	if err != nil {
		c.logger.Warn("fetch: request failed",
			slog.String("id", string(t.id)), slog.Int("level", t.level), slog.String("error", err.Error()))
		c.sink.Fail([]models.NoteID{t.id}, err)
		return
	}
	if !current {
		c.logger.Debug("fetch: superseded result discarded",
			slog.String("id", string(t.id)), slog.Int("level", t.level), slog.Uint64("seq", t.seq))
		c.sink.Fail([]models.NoteID{t.id}, apperr.ErrStale)
		return
	}
	if !c.sink.Chain(t.level).Equal(t.chain) {
		c.logger.Debug("fetch: stale result discarded, ancestor chain changed",
			slog.String("id", string(t.id)), slog.Int("level", t.level))
		c.sink.Fail([]models.NoteID{t.id}, apperr.ErrStale)
		return
	}

	if err := c.sink.Commit(Item{ID: t.id, Content: data, Level: t.level}); err != nil {
		c.logger.Warn("fetch: commit failed",
			slog.String("id", string(t.id)), slog.Int("level", t.level), slog.String("error", err.Error()))
		c.sink.Fail([]models.NoteID{t.id}, err)
	}
}

// FetchBatch requests every id concurrently and, once all have completed,
// commits them in request order at levels Base+1, Base+2, ... A failure of
// any member abandons the whole batch.
func (c *Coordinator) FetchBatch(ctx context.Context, ids []models.NoteID) {
	if len(ids) == 0 {
		return
	}

	c.seq++
	bctx, cancel := context.WithCancel(ctx)
	b := &batch{
		seq:         c.seq,
		ids:         append([]models.NoteID(nil), ids...),
		slots:       make([][]byte, len(ids)),
		outstanding: len(ids),
		chain:       c.sink.Chain(c.opts.Base + 1),
		cancel:      cancel,
	}
	if prev := c.batch; prev != nil {
		prev.superseded = true
		prev.cancel()
	}
	c.batch = b
	for l := range c.latest {
		if l > c.opts.Base {
			delete(c.latest, l)
		}
	}

	c.inflight += len(ids)
	c.logger.Debug("fetch: batch issued", slog.Int("size", len(ids)), slog.Uint64("seq", b.seq))

	go func() {
		g, gctx := errgroup.WithContext(bctx)
		if c.opts.Parallel > 0 {
			g.SetLimit(c.opts.Parallel)
		}
		for i, id := range b.ids {
			g.Go(func() error {
				rctx, rcancel := c.requestCtx(gctx)
				data, err := c.fetcher.Fetch(rctx, id)
				rcancel()
				if !c.poster.Post(func() { c.finishMember(b, i, data, err) }) {
					c.logger.Debug("fetch: batch completion dropped, loop closed", slog.String("id", string(id)))
				}
				return err
			})
		}
		_ = g.Wait()
		cancel()
	}()
}

func (c *Coordinator) finishMember(b *batch, i int, data []byte, err error) {
	c.inflight--
	b.outstanding--

	if err != nil {
		if b.failed == nil {
			b.failed = fmt.Errorf("fetch: batch member %s: %w", b.ids[i], err)
			b.cancel()
		}
	} else {
		b.slots[i] = data
	}
	if b.outstanding > 0 {
		return
	}

	if c.batch == b {
		c.batch = nil
	}

	switch {
	case b.superseded:
		c.logger.Debug("fetch: superseded batch discarded", slog.Uint64("seq", b.seq))
		c.sink.Fail(b.ids, apperr.ErrStale)
		return
	case b.failed != nil:
		c.logger.Warn("fetch: batch abandoned", slog.Int("size", len(b.ids)), slog.String("error", b.failed.Error()))
		c.sink.Fail(b.ids, b.failed)
		return
	case !c.sink.Chain(c.opts.Base + 1).Equal(b.chain):
		c.logger.Debug("fetch: stale batch discarded, ancestor chain changed", slog.Uint64("seq", b.seq))
		c.sink.Fail(b.ids, apperr.ErrStale)
		return
	}

	items := make([]Item, len(b.ids))
	for idx, id := range b.ids {
		items[idx] = Item{ID: id, Content: b.slots[idx], Level: c.opts.Base + idx + 1}
	}
	if err := c.sink.CommitBatch(items); err != nil {
		c.logger.Warn("fetch: batch commit failed", slog.String("error", err.Error()))
		c.sink.Fail(b.ids, err)
	}
}

// IsStale reports whether err marks a discarded, superseded result.
func IsStale(err error) bool {
	return errors.Is(err, apperr.ErrStale)
}
