package index

import (
	"fmt"
	"strings"

	"github.com/starford/zettelstack/internal/models"
)

// MaxDepth bounds neighborhood walks.
const MaxDepth = 3

// Neighborhood returns the notes reachable from id within depth link hops,
// following links in both directions, and the links among them. Node ids
// are note ids without the leading slash and extension, the form graph
// widgets link back to.
func (db *DB) Neighborhood(id models.NoteID, depth int) ([]models.GraphNode, []models.GraphEdge, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	if _, err := db.GetNote(id); err != nil {
		return nil, nil, err
	}

	seen := map[models.NoteID]struct{}{id: {}}
	order := []models.NoteID{id}
	frontier := []models.NoteID{id}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []models.NoteID
		for _, cur := range frontier {
			out, err := db.Outgoing(cur)
			if err != nil {
				return nil, nil, err
			}
			in, err := db.Backlinks(cur)
			if err != nil {
				return nil, nil, err
			}
			for _, n := range append(out, in...) {
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	nodes := make([]models.GraphNode, 0, len(order))
	for _, n := range order {
		label := ""
		if row, err := db.GetNote(n); err == nil {
			label = row.Title
		}
		nodes = append(nodes, models.GraphNode{ID: NodeID(n), Label: label})
	}

	var edges []models.GraphEdge
	for _, n := range order {
		out, err := db.Outgoing(n)
		if err != nil {
			return nil, nil, fmt.Errorf("index: neighborhood edges: %w", err)
		}
		for _, t := range out {
			if _, ok := seen[t]; ok {
				edges = append(edges, models.GraphEdge{From: NodeID(n), To: NodeID(t)})
			}
		}
	}
	return nodes, edges, nil
}

// NodeID converts a note id to its graph node id ("/12.html" -> "12").
func NodeID(id models.NoteID) string {
	s := strings.TrimPrefix(string(id), "/")
	return strings.TrimSuffix(s, ".html")
}
