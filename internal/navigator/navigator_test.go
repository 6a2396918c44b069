package navigator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/history"
	"github.com/starford/zettelstack/internal/loop"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/testutil"
)

func page(title, body string) string {
	return `<!DOCTYPE html><html><head><title>` + title + `</title></head><body>
<div class="grid-container"><div class="grid"><div class="page" data-level="1"><div class="content">
<h1>` + title + `</h1>` + body + `</div></div></div></div></body></html>`
}

var site = map[models.NoteID]string{
	"/a.html": page("A", `<a href="b.html">b</a> <a href="c.html">c</a> <a href="d.html">d</a> <a href="https://example.org/">ext</a>`),
	"/b.html": page("B", `<a href="c.html">c</a> <a href="a.html">a</a>`),
	"/c.html": page("C", `<a href="d.html">d</a>`),
	"/d.html": page("D", `<script type="application/json" data-graph="nodes">[{"id":"b","label":"B"},{"id":"c"}]</script>
<script type="application/json" data-graph="edges">[{"from":"b","to":"c"}]</script>`),
}

// siteFetcher serves pages from a map. Gated ids block until released.
type siteFetcher struct {
	mu    sync.Mutex
	pages map[models.NoteID]string
	gates map[models.NoteID]chan struct{}
	calls []models.NoteID
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{pages: site, gates: map[models.NoteID]chan struct{}{}}
}

func (f *siteFetcher) hold(id models.NoteID) {
	f.mu.Lock()
	f.gates[id] = make(chan struct{})
	f.mu.Unlock()
}

func (f *siteFetcher) release(id models.NoteID) {
	f.mu.Lock()
	ch := f.gates[id]
	delete(f.gates, id)
	f.mu.Unlock()
	close(ch)
}

func (f *siteFetcher) count(id models.NoteID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

func (f *siteFetcher) Fetch(ctx context.Context, id models.NoteID) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	gate := f.gates[id]
	body, ok := f.pages[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w: %w", id, apperr.ErrFetchFailed, apperr.ErrNotFound)
	}
	return []byte(body), nil
}

type fixture struct {
	nav     *Navigator
	fetcher *siteFetcher
	fx      *testutil.Effects
	mem     *history.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := loop.New(time.Millisecond, nil)
	t.Cleanup(l.Close)

	f := &fixture{fetcher: newSiteFetcher(), fx: &testutil.Effects{}}
	f.mem = history.NewMemory(nil)
	nav, err := New(Config{
		Loop:    l,
		Fetcher: f.fetcher,
		Browser: f.mem,
		Effects: f.fx,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(nav.Close)
	f.nav = nav
	return f
}

func (f *fixture) open(t *testing.T, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.nav.Open(ctx, raw); err != nil {
		t.Fatalf("Open(%s): %v", raw, err)
	}
	f.idle(t)
}

func (f *fixture) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.nav.Idle(ctx); err != nil {
		t.Fatalf("Idle: %v", err)
	}
}

func (f *fixture) state(t *testing.T) models.NavigationState {
	t.Helper()
	s, err := f.nav.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (f *fixture) follow(t *testing.T, level int, href string) (bool, error) {
	t.Helper()
	return f.nav.FollowLink(context.Background(), level, href)
}

func TestOpenMountsRoot(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html"}) {
		t.Fatalf("state = %v", s)
	}
	p, err := f.nav.Panel(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "A" || !p.Mounted || len(p.Links) != 4 {
		t.Errorf("root panel = %+v", p)
	}
}

func TestPushFromRoot(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")

	ok, err := f.follow(t, 1, "b.html")
	if err != nil || !ok {
		t.Fatalf("follow = %v, %v", ok, err)
	}
	f.idle(t)

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html"}) {
		t.Errorf("state = %v", s)
	}
	addr, _ := f.nav.Address(context.Background())
	if addr.String() != "http://notes.local/a.html?note=%2Fb.html" {
		t.Errorf("address = %s", addr)
	}
	rec, ok := f.mem.State()
	if !ok || len(rec.Stacks) != 0 || rec.Level != 2 {
		t.Errorf("history record = %+v", rec)
	}
	if f.fx.Count("scroll") != 1 || f.fx.Count("fade") != 1 {
		t.Errorf("effects = %+v", f.fx.Recorded())
	}
}

func TestRestoreAndShallowerPush(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=/b.html&note=/c.html")

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html", "/c.html"}) {
		t.Fatalf("restored state = %v", s)
	}

	if _, err := f.follow(t, 1, "d.html"); err != nil {
		t.Fatal(err)
	}
	f.idle(t)

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/d.html"}) {
		t.Errorf("state = %v", s)
	}
	snap, _ := f.nav.Snapshot(context.Background())
	if len(snap.Panels) != 2 || snap.Panels[1].ID != "/d.html" || snap.Panels[1].Level != 2 {
		t.Errorf("panels = %+v", snap.Panels)
	}
	doc, _ := f.nav.HTML(context.Background())
	if strings.Contains(doc, "<h1>B</h1>") || strings.Contains(doc, "<h1>C</h1>") {
		t.Error("truncated panels still in document")
	}
	if !strings.HasSuffix(snap.Address, "?note=%2Fd.html") {
		t.Errorf("address = %s", snap.Address)
	}
}

func TestRestoreFailureKeepsRootOnly(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=/b.html&note=/missing.html")

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html"}) {
		t.Errorf("state = %v", s)
	}
	snap, _ := f.nav.Snapshot(context.Background())
	if len(snap.Failures) != 1 || len(snap.Panels) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestAlreadyOpenBlinksWithoutFetch(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=/b.html")
	before := f.fetcher.count("/a.html")

	ok, err := f.follow(t, 2, "a.html")
	if ok || !errors.Is(err, apperr.ErrAlreadyOpen) {
		t.Fatalf("follow = %v, %v", ok, err)
	}
	f.idle(t)

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html"}) {
		t.Errorf("state = %v", s)
	}
	if f.fetcher.count("/a.html") != before {
		t.Error("already-open note was fetched")
	}
	if f.fx.Count("blink") != 1 {
		t.Errorf("effects = %+v", f.fx.Recorded())
	}
	if f.mem.Len() != 2 {
		t.Errorf("history len = %d, want 2", f.mem.Len())
	}
}

func TestAlreadyOpenLinkIsHighlighted(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=/b.html")
	p, _ := f.nav.Panel(context.Background(), 2)
	for _, l := range p.Links {
		if want := l.Target == "/a.html"; l.Highlight != want {
			t.Errorf("link %s highlight = %v", l.Href, l.Highlight)
		}
	}
}

func TestLatestSingleFetchWins(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")
	f.fetcher.hold("/b.html")

	if _, err := f.follow(t, 1, "b.html"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.follow(t, 1, "c.html"); err != nil {
		t.Fatal(err)
	}
	// c is not gated and commits first; b completes later and is stale.
	eventually(t, func() bool { return f.state(t).Equal(models.NavigationState{"/a.html", "/c.html"}) })
	f.fetcher.release("/b.html")
	f.idle(t)

	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/c.html"}) {
		t.Errorf("state = %v", s)
	}
	snap, _ := f.nav.Snapshot(context.Background())
	if len(snap.Failures) != 0 {
		t.Errorf("stale result reported as failure: %+v", snap.Failures)
	}
}

func TestGraphDoubleClickOpensNote(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=/d.html")

	ok, err := f.nav.OpenGraphNode(context.Background(), 2, "b")
	if err != nil || !ok {
		t.Fatalf("OpenGraphNode = %v, %v", ok, err)
	}
	f.idle(t)
	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/d.html", "/b.html"}) {
		t.Errorf("state = %v", s)
	}

	if _, err := f.nav.OpenGraphNode(context.Background(), 2, "zz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown node err = %v", err)
	}
}

func TestBackForwardReload(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")
	f.follow(t, 1, "b.html")
	f.idle(t)
	f.follow(t, 2, "c.html")
	f.idle(t)

	moved, err := f.nav.Back(context.Background())
	if err != nil || !moved {
		t.Fatalf("Back = %v, %v", moved, err)
	}
	f.idle(t)
	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html"}) {
		t.Errorf("after back state = %v", s)
	}

	f.nav.Forward(context.Background())
	f.idle(t)
	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html", "/c.html"}) {
		t.Errorf("after forward state = %v", s)
	}
}

func TestBackClearsStaleHighlights(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")
	f.follow(t, 1, "b.html")
	f.idle(t)
	f.follow(t, 2, "c.html")
	f.idle(t)

	if _, err := f.nav.Back(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.idle(t)
	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html", "/b.html"}) {
		t.Fatalf("state = %v", s)
	}

	// The root mounts before the stack is restored, so none of its links
	// highlight; the restored panel sees the root as open.
	for level, open := range map[int]models.NoteID{1: "", 2: "/a.html"} {
		p, err := f.nav.Panel(context.Background(), level)
		if err != nil {
			t.Fatal(err)
		}
		for _, l := range p.Links {
			if want := open != "" && l.Target == open; l.Highlight != want {
				t.Errorf("level %d link %s highlight = %v, want %v", level, l.Href, l.Highlight, want)
			}
		}
	}

	doc, _ := f.nav.HTML(context.Background())
	anchors := regexp.MustCompile(`<a href="c\.html"[^>]*>`).FindAllString(doc, -1)
	if len(anchors) == 0 {
		t.Fatalf("no c.html anchors in %s", doc)
	}
	for _, a := range anchors {
		if strings.Contains(a, "highlight") {
			t.Errorf("closed note still highlighted: %s", a)
		}
	}
}

func TestMalformedAddressDegradesToRoot(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html?note=https://evil.example/x.html")
	if s := f.state(t); !s.Equal(models.NavigationState{"/a.html"}) {
		t.Errorf("state = %v", s)
	}
}

func TestOpenMissingRoot(t *testing.T) {
	f := newFixture(t)
	err := f.nav.Open(context.Background(), "http://notes.local/nope.html")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestPlainLinkIsNotWired(t *testing.T) {
	f := newFixture(t)
	f.open(t, "http://notes.local/a.html")
	if _, err := f.follow(t, 1, "https://example.org/"); !errors.Is(err, apperr.ErrNotWired) {
		t.Errorf("err = %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
