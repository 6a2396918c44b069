package render

import (
	"golang.org/x/net/html"

	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/parser"
)

// Link is an anchor inside a mounted panel.
type Link struct {
	// Href is the raw href attribute.
	Href string `json:"href"`
	// Target is the resolved note, empty for plain links.
	Target models.NoteID `json:"target,omitempty"`
	// Level is the level a click on this link opens at.
	Level int `json:"level"`
	// Wired links route clicks into the stack; others navigate normally.
	Wired bool `json:"wired"`
	// Highlight marks links whose target is already open.
	Highlight bool   `json:"highlight"`
	Text      string `json:"text"`
}

// Panel is one rendered note. It is owned by the Bridge.
type Panel struct {
	id       models.NoteID
	level    int
	node     *html.Node
	links    []Link
	widget   GraphWidget
	attached bool
	mounted  bool
}

// ID returns the note shown by the panel.
func (p *Panel) ID() models.NoteID { return p.id }

// Level returns the panel's 1-based position.
func (p *Panel) Level() int { return p.level }

// Attached reports whether the panel is still part of the document.
func (p *Panel) Attached() bool { return p.attached }

// Mounted reports whether the panel's links are wired.
func (p *Panel) Mounted() bool { return p.mounted }

// Widget returns the panel's graph widget, if any.
func (p *Panel) Widget() GraphWidget { return p.widget }

// Links returns a copy of the panel's links. Empty until mounted.
func (p *Panel) Links() []Link {
	out := make([]Link, len(p.links))
	copy(out, p.links)
	return out
}

// View returns a snapshot of the panel.
func (p *Panel) View() PanelView {
	return PanelView{
		ID:      p.id,
		Level:   p.level,
		Title:   parser.Title(p.node),
		Text:    parser.Text(p.node),
		HTML:    parser.Render(p.node),
		Mounted: p.mounted,
		Graph:   p.widget != nil,
		Links:   p.Links(),
	}
}

// PanelView is a read-only snapshot of a panel.
type PanelView struct {
	ID      models.NoteID `json:"id"`
	Level   int           `json:"level"`
	Title   string        `json:"title"`
	Text    string        `json:"text"`
	HTML    string        `json:"-"`
	Mounted bool          `json:"mounted"`
	Graph   bool          `json:"graph"`
	Links   []Link        `json:"links"`
}
