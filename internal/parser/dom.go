// Package parser parses note pages and fragments into x/net/html trees and
// extracts what the navigator needs from them: the panel root, anchors,
// title and embedded graph data.
package parser

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets attribute key on n, replacing any previous value.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether n carries class name.
func HasClass(n *html.Node, name string) bool {
	cls, _ := Attr(n, "class")
	for _, c := range strings.Fields(cls) {
		if c == name {
			return true
		}
	}
	return false
}

// AddClass adds class name to n if missing.
func AddClass(n *html.Node, name string) {
	if HasClass(n, name) {
		return
	}
	cls, _ := Attr(n, "class")
	SetAttr(n, "class", strings.TrimSpace(cls+" "+name))
}

// RemoveClass removes class name from n.
func RemoveClass(n *html.Node, name string) {
	cls, ok := Attr(n, "class")
	if !ok {
		return
	}
	var keep []string
	for _, c := range strings.Fields(cls) {
		if c != name {
			keep = append(keep, c)
		}
	}
	SetAttr(n, "class", strings.Join(keep, " "))
}

// Find returns the first element under n (n included) for which match
// reports true, in document order.
func Find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every element under n (n included) for which match
// reports true, in document order.
func FindAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// ByClass matches elements carrying class name.
func ByClass(name string) func(*html.Node) bool {
	return func(n *html.Node) bool { return HasClass(n, name) }
}

// ByAtom matches elements of the given tag.
func ByAtom(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

// Text returns the concatenated text content of n, whitespace collapsed.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Render serializes n to HTML.
func Render(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
