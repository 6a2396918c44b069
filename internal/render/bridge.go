// Package render reflects the note stack into a DOM: a .grid container
// holding one .page panel per open note.
package render

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/fetch"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/parser"
)

// DefaultAnimation is the fade-in and blink length.
const DefaultAnimation = 200 * time.Millisecond

// Scheduler defers work by one scheduling tick.
type Scheduler interface {
	AfterTick(fn func())
}

// LinkHandler routes a click on a wired link (or a graph node double-click)
// into the stack pipeline. It reports whether a note was opened.
type LinkHandler func(href string, level int) (bool, error)

// Config wires a Bridge.
type Config struct {
	Scheduler Scheduler
	// OnLink receives clicks on wired links.
	OnLink LinkHandler
	// IsOpen reports whether a note is anywhere in the current stack.
	IsOpen func(models.NoteID) bool
	// Param is the stack query parameter; links carrying it stay plain.
	Param     string
	Effects   Effects
	Widgets   WidgetFactory
	Animation time.Duration
	Logger    *slog.Logger
}

// Bridge owns the document and its panels. It is not safe for concurrent
// use; all methods run on the event loop.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	doc    *html.Node
	grid   *html.Node
	base   *url.URL
	panels []*Panel
}

// New returns a Bridge with an empty document.
func New(cfg Config) *Bridge {
	if cfg.Effects == nil {
		cfg.Effects = LogEffects{Logger: cfg.Logger}
	}
	if cfg.Widgets == nil {
		cfg.Widgets = NewStaticGraph
	}
	if cfg.Animation <= 0 {
		cfg.Animation = DefaultAnimation
	}
	if cfg.IsOpen == nil {
		cfg.IsOpen = func(models.NoteID) bool { return false }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, logger: logger}
}

// Reset replaces the document with the root page loaded from location and
// attaches its panel as level 1. The panel is left unmounted: callers mount
// it with Mount once the open set reflects the new stack, since highlights
// are decided at mount time.
func (b *Bridge) Reset(page []byte, location *url.URL) (*Panel, error) {
	doc, err := parser.ParseDocument(page)
	if err != nil {
		return nil, err
	}
	root := parser.Find(doc, parser.ByClass(parser.ClassPage))
	if root == nil {
		return nil, fmt.Errorf("render: root page has no .%s element: %w", parser.ClassPage, apperr.ErrMalformedContent)
	}
	grid := parser.Find(doc, parser.ByClass(parser.ClassGrid))
	if grid == nil {
		grid = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div,
			Attr: []html.Attribute{{Key: "class", Val: parser.ClassGrid}}}
		root.Parent.InsertBefore(grid, root)
	}
	if root.Parent != grid {
		parser.Detach(root)
		grid.AppendChild(root)
	}
	// Only the root panel survives a reload.
	for c := grid.FirstChild; c != nil; {
		next := c.NextSibling
		if c != root && c.Type == html.ElementNode && parser.HasClass(c, parser.ClassPage) {
			grid.RemoveChild(c)
		}
		c = next
	}

	b.Truncate(1)
	b.doc = doc
	b.grid = grid
	b.base = location

	p := &Panel{id: models.IDFromURL(location), level: 1, node: root, attached: true}
	parser.SetAttr(root, parser.AttrLevel, "1")
	b.panels = []*Panel{p}
	return p, nil
}

// Commit renders content as the panel for id at level: panels at level or
// deeper are removed, the new panel is appended and, one tick later,
// scrolled into view, faded in and mounted. Malformed content leaves the
// document untouched.
func (b *Bridge) Commit(id models.NoteID, content []byte, level int) (*Panel, error) {
	node, err := parser.ParsePanel(content)
	if err != nil {
		return nil, fmt.Errorf("render: commit %s: %w", id, err)
	}
	if b.grid == nil {
		return nil, fmt.Errorf("render: commit %s: no document loaded", id)
	}
	return b.insert(id, node, level), nil
}

// CommitAll renders every item in order, or none if any is malformed.
func (b *Bridge) CommitAll(items []fetch.Item) ([]*Panel, error) {
	if b.grid == nil {
		return nil, fmt.Errorf("render: commit batch: no document loaded")
	}
	nodes := make([]*html.Node, len(items))
	for i, it := range items {
		node, err := parser.ParsePanel(it.Content)
		if err != nil {
			return nil, fmt.Errorf("render: commit %s: %w", it.ID, err)
		}
		nodes[i] = node
	}
	out := make([]*Panel, len(items))
	for i, it := range items {
		out[i] = b.insert(it.ID, nodes[i], it.Level)
	}
	return out, nil
}

func (b *Bridge) insert(id models.NoteID, node *html.Node, level int) *Panel {
	if level < 2 {
		level = 2
	}
	if level > len(b.panels)+1 {
		level = len(b.panels) + 1
	}
	b.Truncate(level)

	b.grid.AppendChild(node)
	parser.SetAttr(node, parser.AttrLevel, strconv.Itoa(level))
	p := &Panel{id: id, level: level, node: node, attached: true}
	b.panels = append(b.panels, p)

	b.cfg.Scheduler.AfterTick(func() { b.finalize(p) })
	return p
}

// finalize runs one tick after insertion, once layout has settled.
func (b *Bridge) finalize(p *Panel) {
	if !p.attached {
		b.logger.Debug("render: panel removed before finalize", slog.String("id", string(p.id)))
		return
	}
	view := p.View()
	b.cfg.Effects.ScrollIntoView(view)
	b.cfg.Effects.FadeIn(view, b.cfg.Animation)
	b.Mount(p)
}

// Truncate removes every panel at level or deeper, stopping their widgets.
func (b *Bridge) Truncate(level int) []*Panel {
	if level < 1 {
		level = 1
	}
	if level > len(b.panels) {
		return nil
	}
	removed := b.panels[level-1:]
	for _, p := range removed {
		parser.Detach(p.node)
		if p.widget != nil {
			p.widget.Stop()
		}
		p.attached = false
	}
	b.panels = append([]*Panel(nil), b.panels[:level-1]...)
	return removed
}

// Mount wires p's links and graph widget. Mounting a panel twice is a no-op.
func (b *Bridge) Mount(p *Panel) {
	if p.mounted || !p.attached {
		return
	}
	p.mounted = true
	linkLevel := p.level + 1

	for _, a := range parser.Anchors(p.node) {
		parser.SetAttr(a, parser.AttrLevel, strconv.Itoa(linkLevel))
		href, _ := parser.Attr(a, "href")
		l := Link{Href: href, Level: linkLevel, Text: parser.Text(a)}
		if parser.IsNoteHref(href, b.cfg.Param) {
			if target, err := parser.ResolveHref(b.base, href); err == nil && target != "" {
				l.Target = target
				l.Wired = true
				if b.cfg.IsOpen(target) {
					l.Highlight = true
					parser.AddClass(a, parser.ClassHighlight)
				}
			}
		}
		p.links = append(p.links, l)
	}

	nodes, edges, found, err := parser.GraphData(p.node)
	if err != nil {
		b.logger.Warn("render: graph data unreadable", slog.String("id", string(p.id)), slog.String("error", err.Error()))
		return
	}
	if found {
		p.widget = b.cfg.Widgets(nodes, edges, func(nodeID string) {
			if _, err := b.route(parser.NodeHref(nodeID), linkLevel); err != nil {
				b.logger.Debug("render: graph double-click not followed",
					slog.String("node", nodeID), slog.String("error", err.Error()))
			}
		})
	}
}

func (b *Bridge) route(href string, level int) (bool, error) {
	if b.cfg.OnLink == nil {
		return false, apperr.ErrNotWired
	}
	return b.cfg.OnLink(href, level)
}

// Panel returns the attached panel at level.
func (b *Bridge) Panel(level int) (*Panel, bool) {
	if level < 1 || level > len(b.panels) {
		return nil, false
	}
	return b.panels[level-1], true
}

// Panels returns views of the attached panels in order.
func (b *Bridge) Panels() []PanelView {
	out := make([]PanelView, len(b.panels))
	for i, p := range b.panels {
		out[i] = p.View()
	}
	return out
}

// Click simulates a click on the link with the given raw href inside the
// panel at level. Plain links report ErrNotWired.
func (b *Bridge) Click(level int, href string) (bool, error) {
	p, ok := b.Panel(level)
	if !ok {
		return false, fmt.Errorf("render: no panel at level %d: %w", level, apperr.ErrNotFound)
	}
	if !p.mounted {
		return false, fmt.Errorf("render: panel %d not mounted yet: %w", level, apperr.ErrNotWired)
	}
	for _, l := range p.links {
		if l.Href != href {
			continue
		}
		if !l.Wired {
			return false, fmt.Errorf("render: %q: %w", href, apperr.ErrNotWired)
		}
		return b.route(l.Href, l.Level)
	}
	return false, fmt.Errorf("render: no link %q at level %d: %w", href, level, apperr.ErrNotFound)
}

// DoubleClickNode emits a double-click on a node of the graph in the panel
// at level.
func (b *Bridge) DoubleClickNode(level int, nodeID string) error {
	p, ok := b.Panel(level)
	if !ok {
		return fmt.Errorf("render: no panel at level %d: %w", level, apperr.ErrNotFound)
	}
	dc, ok := p.widget.(DoubleClicker)
	if !ok {
		return fmt.Errorf("render: panel %d has no graph: %w", level, apperr.ErrNotFound)
	}
	if g, ok := p.widget.(interface{ HasNode(string) bool }); ok && !g.HasNode(nodeID) {
		return fmt.Errorf("render: graph node %q at level %d: %w", nodeID, level, apperr.ErrNotFound)
	}
	dc.DoubleClick(nodeID)
	return nil
}

// Blink plays the already-open feedback on a link.
func (b *Bridge) Blink(level int, href string) {
	b.cfg.Effects.Blink(level, href, b.cfg.Animation)
}

// HTML serializes the whole document.
func (b *Bridge) HTML() string {
	if b.doc == nil {
		return ""
	}
	return parser.Render(b.doc)
}
