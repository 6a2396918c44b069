package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/loop"
	"github.com/starford/zettelstack/internal/models"
)

type result struct {
	data []byte
	err  error
}

// gateFetcher blocks every request until the test releases it.
type gateFetcher struct {
	mu    sync.Mutex
	gates map[models.NoteID]chan result
	calls []models.NoteID
}

func newGateFetcher() *gateFetcher {
	return &gateFetcher{gates: make(map[models.NoteID]chan result)}
}

func (g *gateFetcher) gate(id models.NoteID) chan result {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan result, 1)
		g.gates[id] = ch
	}
	return ch
}

func (g *gateFetcher) Fetch(ctx context.Context, id models.NoteID) ([]byte, error) {
	g.mu.Lock()
	g.calls = append(g.calls, id)
	g.mu.Unlock()
	select {
	case r := <-g.gate(id):
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateFetcher) release(id models.NoteID) {
	g.gate(id) <- result{data: []byte("content of " + string(id))}
}

func (g *gateFetcher) fail(id models.NoteID) {
	g.gate(id) <- result{err: fmt.Errorf("boom: %w", apperr.ErrFetchFailed)}
}

type failure struct {
	ids []models.NoteID
	err error
}

// fakeSink mimics the navigator: commits extend a NavigationState.
type fakeSink struct {
	state   models.NavigationState
	commits []Item
	batches [][]Item
	fails   []failure
}

func (s *fakeSink) Chain(level int) models.NavigationState {
	return s.state.Truncate(level - 1)
}

func (s *fakeSink) Commit(it Item) error {
	s.commits = append(s.commits, it)
	s.state = s.state.Truncate(it.Level - 1).Append(it.ID)
	return nil
}

func (s *fakeSink) CommitBatch(items []Item) error {
	s.batches = append(s.batches, items)
	for _, it := range items {
		s.state = s.state.Truncate(it.Level - 1).Append(it.ID)
	}
	return nil
}

func (s *fakeSink) Fail(ids []models.NoteID, err error) {
	s.fails = append(s.fails, failure{ids: ids, err: err})
}

type harness struct {
	t     *testing.T
	loop  *loop.Loop
	fetch *gateFetcher
	sink  *fakeSink
	coord *Coordinator
}

func newHarness(t *testing.T, root models.NavigationState) *harness {
	t.Helper()
	l := loop.New(time.Millisecond, nil)
	t.Cleanup(l.Close)
	h := &harness{t: t, loop: l, fetch: newGateFetcher(), sink: &fakeSink{state: root}}
	h.coord = NewCoordinator(h.fetch, l, h.sink, nil, Options{Base: 1, Timeout: 5 * time.Second})
	return h
}

// on runs fn on the event loop.
func (h *harness) on(fn func()) {
	h.t.Helper()
	if err := h.loop.Do(context.Background(), fn); err != nil {
		h.t.Fatalf("loop: %v", err)
	}
}

// waitInFlight polls until the coordinator has n outstanding requests.
func (h *harness) waitInFlight(n int) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var got int
		h.on(func() { got = h.coord.InFlight() })
		if got == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("in-flight never reached %d", n)
}

func TestFetchOneCommits(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/a.html"})
	h.on(func() { h.coord.FetchOne(context.Background(), "/b.html", 2) })
	h.fetch.release("/b.html")
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.commits) != 1 || h.sink.commits[0].ID != "/b.html" || h.sink.commits[0].Level != 2 {
			t.Errorf("commits = %+v", h.sink.commits)
		}
		if string(h.sink.commits[0].Content) != "content of /b.html" {
			t.Errorf("content = %q", h.sink.commits[0].Content)
		}
		if !h.sink.state.Equal(models.NavigationState{"/a.html", "/b.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
	})
}

func TestFetchOneFailureLeavesStackUnchanged(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/a.html"})
	h.on(func() { h.coord.FetchOne(context.Background(), "/b.html", 2) })
	h.fetch.fail("/b.html")
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.commits) != 0 {
			t.Errorf("unexpected commit %+v", h.sink.commits)
		}
		if len(h.sink.fails) != 1 || !errors.Is(h.sink.fails[0].err, apperr.ErrFetchFailed) {
			t.Errorf("fails = %+v", h.sink.fails)
		}
		if !h.sink.state.Equal(models.NavigationState{"/a.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
	})
}

func TestLatestRequestPerLevelWins(t *testing.T) {
	for _, newerFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("newerFirst=%v", newerFirst), func(t *testing.T) {
			h := newHarness(t, models.NavigationState{"/a.html"})
			h.on(func() {
				h.coord.FetchOne(context.Background(), "/old.html", 2)
				h.coord.FetchOne(context.Background(), "/new.html", 2)
			})
			if newerFirst {
				h.fetch.release("/new.html")
				h.waitInFlight(1)
				h.fetch.release("/old.html")
			} else {
				h.fetch.release("/old.html")
				h.waitInFlight(1)
				h.fetch.release("/new.html")
			}
			h.waitInFlight(0)

			h.on(func() {
				if len(h.sink.commits) != 1 || h.sink.commits[0].ID != "/new.html" {
					t.Errorf("commits = %+v", h.sink.commits)
				}
				if !h.sink.state.Equal(models.NavigationState{"/a.html", "/new.html"}) {
					t.Errorf("state = %v", h.sink.state)
				}
				if len(h.sink.fails) != 1 || !IsStale(h.sink.fails[0].err) {
					t.Errorf("fails = %+v", h.sink.fails)
				}
			})
		})
	}
}

func TestDeeperRequestFromSupersededBranchDiscarded(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/a.html", "/b.html"})
	h.on(func() {
		// Opened from b's panel, then the user picks another link in a.
		h.coord.FetchOne(context.Background(), "/d.html", 3)
		h.coord.FetchOne(context.Background(), "/c.html", 2)
	})
	h.fetch.release("/c.html")
	h.waitInFlight(1)
	h.fetch.release("/d.html")
	h.waitInFlight(0)

	h.on(func() {
		if !h.sink.state.Equal(models.NavigationState{"/a.html", "/c.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
		for _, c := range h.sink.commits {
			if c.ID == "/d.html" {
				t.Errorf("stale d committed")
			}
		}
	})
}

func TestDeeperRequestIssuedAfterShallowerIsStillChecked(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/a.html", "/b.html"})
	h.on(func() {
		h.coord.FetchOne(context.Background(), "/c.html", 2)
		h.coord.FetchOne(context.Background(), "/d.html", 3)
	})
	h.fetch.release("/c.html")
	h.waitInFlight(1)
	h.fetch.release("/d.html")
	h.waitInFlight(0)

	h.on(func() {
		if !h.sink.state.Equal(models.NavigationState{"/a.html", "/c.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
	})
}

func TestBatchCommitsInRequestOrder(t *testing.T) {
	ids := []models.NoteID{"/x.html", "/y.html", "/z.html", "/w.html"}
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() { h.coord.FetchBatch(context.Background(), ids) })

	// Complete in reverse order.
	for i := len(ids) - 1; i >= 0; i-- {
		h.fetch.release(ids[i])
		h.waitInFlight(i)
	}

	h.on(func() {
		if len(h.sink.batches) != 1 {
			t.Errorf("batches = %d", len(h.sink.batches))
			return
		}
		for i, it := range h.sink.batches[0] {
			if it.ID != ids[i] || it.Level != i+2 {
				t.Errorf("item %d = %s@%d", i, it.ID, it.Level)
			}
			if string(it.Content) != "content of "+string(ids[i]) {
				t.Errorf("item %d content = %q", i, it.Content)
			}
		}
		want := append(models.NavigationState{"/root.html"}, ids...)
		if !h.sink.state.Equal(want) {
			t.Errorf("state = %v", h.sink.state)
		}
	})
}

func TestBatchOrderRandomizedTiming(t *testing.T) {
	ids := []models.NoteID{"/1.html", "/2.html", "/3.html", "/4.html", "/5.html"}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 10; round++ {
		delays := make(map[models.NoteID]time.Duration, len(ids))
		for _, id := range ids {
			delays[id] = time.Duration(rng.Intn(15)) * time.Millisecond
		}
		f := FetcherFunc(func(ctx context.Context, id models.NoteID) ([]byte, error) {
			time.Sleep(delays[id])
			return []byte(id), nil
		})

		l := loop.New(time.Millisecond, nil)
		sink := &fakeSink{state: models.NavigationState{"/root.html"}}
		c := NewCoordinator(f, l, sink, nil, Options{Base: 1})
		_ = l.Do(context.Background(), func() { c.FetchBatch(context.Background(), ids) })

		deadline := time.Now().Add(5 * time.Second)
		for {
			var done bool
			_ = l.Do(context.Background(), func() { done = c.InFlight() == 0 })
			if done || time.Now().After(deadline) {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}

		var batches [][]Item
		_ = l.Do(context.Background(), func() { batches = sink.batches })
		l.Close()

		if len(batches) != 1 {
			t.Fatalf("round %d: batches = %d", round, len(batches))
		}
		for i, it := range batches[0] {
			if it.ID != ids[i] {
				t.Errorf("round %d: item %d = %s", round, i, it.ID)
			}
		}
	}
}

func TestBatchFailsAtomically(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() { h.coord.FetchBatch(context.Background(), []models.NoteID{"/x.html", "/y.html"}) })
	h.fetch.release("/x.html")
	h.waitInFlight(1)
	h.fetch.fail("/y.html")
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.batches) != 0 || len(h.sink.commits) != 0 {
			t.Errorf("partial commit: %+v %+v", h.sink.batches, h.sink.commits)
		}
		if !h.sink.state.Equal(models.NavigationState{"/root.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
		if len(h.sink.fails) != 1 || len(h.sink.fails[0].ids) != 2 {
			t.Errorf("fails = %+v", h.sink.fails)
		}
		if !errors.Is(h.sink.fails[0].err, apperr.ErrFetchFailed) {
			t.Errorf("fail err = %v", h.sink.fails[0].err)
		}
	})
}

func TestBatchFailureCancelsSiblings(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() {
		h.coord.FetchBatch(context.Background(), []models.NoteID{"/x.html", "/y.html", "/z.html"})
	})
	h.fetch.fail("/x.html")
	// y and z are never released; the failure cancels them.
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.batches) != 0 {
			t.Errorf("unexpected batch commit")
		}
		if len(h.sink.fails) != 1 {
			t.Errorf("fails = %+v", h.sink.fails)
		}
	})
}

func TestSingleFetchSupersedesBatch(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() {
		h.coord.FetchBatch(context.Background(), []models.NoteID{"/x.html", "/y.html"})
		h.coord.FetchOne(context.Background(), "/b.html", 2)
	})
	h.fetch.release("/b.html")
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.batches) != 0 {
			t.Errorf("superseded batch committed")
		}
		if !h.sink.state.Equal(models.NavigationState{"/root.html", "/b.html"}) {
			t.Errorf("state = %v", h.sink.state)
		}
	})
}

func TestNewBatchSupersedesOld(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() {
		h.coord.FetchBatch(context.Background(), []models.NoteID{"/x.html"})
		h.coord.FetchBatch(context.Background(), []models.NoteID{"/y.html"})
	})
	h.fetch.release("/y.html")
	h.waitInFlight(0)

	h.on(func() {
		if len(h.sink.batches) != 1 || h.sink.batches[0][0].ID != "/y.html" {
			t.Errorf("batches = %+v", h.sink.batches)
		}
	})
}

func TestEmptyBatchIsNoop(t *testing.T) {
	h := newHarness(t, models.NavigationState{"/root.html"})
	h.on(func() {
		h.coord.FetchBatch(context.Background(), nil)
		if h.coord.InFlight() != 0 {
			t.Errorf("in-flight = %d", h.coord.InFlight())
		}
	})
}
