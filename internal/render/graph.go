package render

import (
	"sync/atomic"

	"github.com/starford/zettelstack/internal/models"
)

// GraphWidget is a relation diagram mounted inside a panel. Stop tears down
// its simulation when the panel is removed.
type GraphWidget interface {
	Stop()
}

// DoubleClicker is implemented by widgets that let callers emit a node
// double-click, as a user would.
type DoubleClicker interface {
	DoubleClick(nodeID string)
}

// WidgetFactory builds a widget for the given diagram. onDoubleClick must be
// invoked with the node id whenever a node is double-clicked.
type WidgetFactory func(nodes []models.GraphNode, edges []models.GraphEdge, onDoubleClick func(nodeID string)) GraphWidget

// StaticGraph is a headless widget holding the diagram data.
type StaticGraph struct {
	Nodes []models.GraphNode
	Edges []models.GraphEdge

	onDoubleClick func(string)
	stopped       atomic.Bool
}

// NewStaticGraph is a WidgetFactory producing StaticGraph widgets.
func NewStaticGraph(nodes []models.GraphNode, edges []models.GraphEdge, onDoubleClick func(string)) GraphWidget {
	return &StaticGraph{Nodes: nodes, Edges: edges, onDoubleClick: onDoubleClick}
}

// Stop marks the widget stopped; later double-clicks are ignored.
func (g *StaticGraph) Stop() {
	g.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (g *StaticGraph) Stopped() bool {
	return g.stopped.Load()
}

// HasNode reports whether nodeID is part of the diagram.
func (g *StaticGraph) HasNode(nodeID string) bool {
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}

// DoubleClick emits a double-click on nodeID.
func (g *StaticGraph) DoubleClick(nodeID string) {
	if g.stopped.Load() || g.onDoubleClick == nil {
		return
	}
	g.onDoubleClick(nodeID)
}
