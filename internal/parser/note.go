package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
)

// Class names and attributes of the note page markup.
const (
	ClassGrid      = "grid"
	ClassPage      = "page"
	ClassHighlight = "highlight"
	AttrLevel      = "data-level"
	AttrGraph      = "data-graph"
)

// ParseDocument parses a complete note page.
func ParseDocument(data []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parser: parse document: %w", err)
	}
	return doc, nil
}

// ParsePanel parses note content (a full page or a fragment) and returns its
// first panel root, detached from the rest of the parse tree.
func ParsePanel(data []byte) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(bytes.NewReader(data), ctx)
	if err != nil {
		return nil, fmt.Errorf("parser: parse fragment: %w", err)
	}
	for _, n := range nodes {
		if panel := Find(n, ByClass(ClassPage)); panel != nil {
			Detach(panel)
			return panel, nil
		}
	}
	return nil, fmt.Errorf("parser: no .%s element: %w", ClassPage, apperr.ErrMalformedContent)
}

// Title returns the document <title>, falling back to the first <h1>.
func Title(doc *html.Node) string {
	if t := Find(doc, ByAtom(atom.Title)); t != nil {
		if s := Text(t); s != "" {
			return s
		}
	}
	if h := Find(doc, ByAtom(atom.H1)); h != nil {
		return Text(h)
	}
	return ""
}

// Anchors returns every <a> element under n.
func Anchors(n *html.Node) []*html.Node {
	return FindAll(n, ByAtom(atom.A))
}

// IsNoteHref reports whether raw points at another note page and should be
// wired into the stack. HTML pages and extensionless path segments count as
// notes. Absolute external URLs, fragment-only anchors, other file types,
// directory links and links already carrying the stack parameter are left
// as plain navigation.
func IsNoteHref(raw, param string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "//") {
		return false
	}
	if param != "" && strings.Contains(raw, param+"=") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return false
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".html", ".htm", "":
		return true
	default:
		return false
	}
}

// ResolveHref resolves raw against base and returns the target's NoteID.
func ResolveHref(base *url.URL, raw string) (models.NoteID, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parser: parse href %q: %w", raw, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return models.IDFromURL(ref), nil
}

// NoteLinks returns the distinct note targets linked from n, resolved
// against base, in document order.
func NoteLinks(n *html.Node, base *url.URL, param string) []models.NoteID {
	seen := make(map[models.NoteID]struct{})
	var out []models.NoteID
	for _, a := range Anchors(n) {
		href, ok := Attr(a, "href")
		if !ok || !IsNoteHref(href, param) {
			continue
		}
		id, err := ResolveHref(base, href)
		if err != nil || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GraphData decodes the embedded node and edge blocks of a panel. found is
// false when the panel carries no graph.
func GraphData(n *html.Node) (nodes []models.GraphNode, edges []models.GraphEdge, found bool, err error) {
	blocks := FindAll(n, func(n *html.Node) bool {
		_, ok := Attr(n, AttrGraph)
		return ok && n.DataAtom == atom.Script
	})
	for _, b := range blocks {
		kind, _ := Attr(b, AttrGraph)
		var raw strings.Builder
		for c := b.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				raw.WriteString(c.Data)
			}
		}
		switch kind {
		case "nodes":
			found = true
			if err := json.Unmarshal([]byte(raw.String()), &nodes); err != nil {
				return nil, nil, true, fmt.Errorf("parser: graph nodes: %w", err)
			}
		case "edges":
			found = true
			if err := json.Unmarshal([]byte(raw.String()), &edges); err != nil {
				return nil, nil, true, fmt.Errorf("parser: graph edges: %w", err)
			}
		}
	}
	return nodes, edges, found, nil
}

// NodeHref is the note path a graph node id points at.
func NodeHref(nodeID string) string {
	return "/" + strings.TrimPrefix(nodeID, "/") + ".html"
}
