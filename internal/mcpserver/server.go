// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes a headless stacked-notes viewer session via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/index"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/navigator"
	"github.com/starford/zettelstack/internal/render"
)

// StackResourceURI is the resource holding the current session snapshot.
const StackResourceURI = "zettelstack://stack"

// SettleTimeout bounds how long a tool waits for the stack to settle.
const SettleTimeout = 15 * time.Second

// Session is the viewer driven by the tools. *navigator.Navigator
// satisfies it.
type Session interface {
	Open(ctx context.Context, raw string) error
	FollowLink(ctx context.Context, level int, href string) (bool, error)
	OpenGraphNode(ctx context.Context, level int, nodeID string) (bool, error)
	Back(ctx context.Context) (bool, error)
	Forward(ctx context.Context) (bool, error)
	Idle(ctx context.Context) error
	Snapshot(ctx context.Context) (navigator.Snapshot, error)
	Panel(ctx context.Context, level int) (render.PanelView, error)
}

// Server wraps the MCP server with viewer tools.
type Server struct {
	mcp  *server.MCPServer
	sess Session
	db   index.LinkIndex
}

// New creates a new MCP server with all tools registered. db may be nil,
// in which case get_backlinks is not offered.
func New(sess Session, db index.LinkIndex, version string) *Server {
	s := &Server{sess: sess, db: db}

	s.mcp = server.NewMCPServer(
		"zettelstack",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("open_address",
		mcp.WithDescription("Load an address in the viewer. The path names the root note; repeated "+
			"'note' query values restore the stacked notes, e.g. /12.html?note=/13.html&note=/14.html."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Absolute URL or path relative to the site origin")),
	), s.openAddress)

	s.mcp.AddTool(mcp.NewTool("follow_link",
		mcp.WithDescription("Click a link inside the panel at the given level (1 is the root note). "+
			"The target opens right of that panel and every panel further right is closed."),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Level of the panel containing the link")),
		mcp.WithString("href", mcp.Required(), mcp.Description("The link's href exactly as listed by list_links")),
	), s.followLink)

	s.mcp.AddTool(mcp.NewTool("open_graph_node",
		mcp.WithDescription("Double-click a node of the relation graph shown in the panel at the given level."),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Level of the panel containing the graph")),
		mcp.WithString("node", mcp.Required(), mcp.Description("Graph node id, e.g. 14")),
	), s.openGraphNode)

	s.mcp.AddTool(mcp.NewTool("back",
		mcp.WithDescription("Go back one history entry; the page reloads at that address."),
	), s.back)

	s.mcp.AddTool(mcp.NewTool("forward",
		mcp.WithDescription("Go forward one history entry; the page reloads at that address."),
	), s.forward)

	s.mcp.AddTool(mcp.NewTool("stack_state",
		mcp.WithDescription("Current address, open notes and panels as JSON."),
	), s.stackState)

	s.mcp.AddTool(mcp.NewTool("read_panel",
		mcp.WithDescription("Read the text of the panel at the given level."),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Panel level, 1 for the root note")),
	), s.readPanel)

	s.mcp.AddTool(mcp.NewTool("list_links",
		mcp.WithDescription("List the links of the panel at the given level, marking note links and already open targets."),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Panel level, 1 for the root note")),
	), s.listLinks)

	if db != nil {
		s.mcp.AddTool(mcp.NewTool("get_backlinks",
			mcp.WithDescription("Find all notes of the site that link to the specified note."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Note path, e.g. /12.html")),
		), s.getBacklinks)
	}

	s.mcp.AddResource(
		mcp.NewResource(StackResourceURI, "Note stack",
			mcp.WithResourceDescription("Snapshot of the viewer session: address, open notes, panels."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStackResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// settled waits for the stack to settle and renders the snapshot.
func (s *Server) settled(ctx context.Context, prefix string) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, SettleTimeout)
	defer cancel()
	if err := s.sess.Idle(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n")
	}
	writeSnapshot(&b, snap)
	return mcp.NewToolResultText(b.String()), nil
}

func writeSnapshot(b *strings.Builder, snap navigator.Snapshot) {
	fmt.Fprintf(b, "address: %s\n", snap.Address)
	for _, p := range snap.Panels {
		fmt.Fprintf(b, "%d. %s  %s\n", p.Level, p.ID, p.Title)
	}
	for _, f := range snap.Failures {
		fmt.Fprintf(b, "failed: %s (%s)\n", strings.Join(models.NavigationState(f.IDs).Strings(), ", "), f.Error)
	}
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrAlreadyOpen):
		return mcp.NewToolResultError("already open: " + err.Error())
	case errors.Is(err, apperr.ErrNotWired):
		return mcp.NewToolResultError("not a note link: " + err.Error())
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) openAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, err := req.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Open(ctx, address); err != nil {
		return toolError(err), nil
	}
	return s.settled(ctx, "")
}

func (s *Server) followLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireInt("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	href, err := req.RequireString("href")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sess.FollowLink(ctx, level, href); err != nil {
		return toolError(err), nil
	}
	return s.settled(ctx, "")
}

func (s *Server) openGraphNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireInt("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	node, err := req.RequireString("node")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sess.OpenGraphNode(ctx, level, node); err != nil {
		return toolError(err), nil
	}
	return s.settled(ctx, "")
}

func (s *Server) back(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	moved, err := s.sess.Back(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if !moved {
		return mcp.NewToolResultText("no earlier history entry"), nil
	}
	return s.settled(ctx, "")
}

func (s *Server) forward(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	moved, err := s.sess.Forward(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if !moved {
		return mcp.NewToolResultText("no later history entry"), nil
	}
	return s.settled(ctx, "")
}

func (s *Server) stackState(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readPanel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireInt("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.sess.Panel(ctx, level)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s (%s)\n\n%s", p.Title, p.ID, strings.TrimSpace(p.Text))), nil
}

func (s *Server) listLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireInt("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.sess.Panel(ctx, level)
	if err != nil {
		return toolError(err), nil
	}
	if !p.Mounted {
		return mcp.NewToolResultText("panel is still loading"), nil
	}
	if len(p.Links) == 0 {
		return mcp.NewToolResultText("no links"), nil
	}
	var b strings.Builder
	for _, l := range p.Links {
		mark := " "
		switch {
		case l.Highlight:
			mark = "*"
		case l.Wired:
			mark = ">"
		}
		fmt.Fprintf(&b, "%s %s  %s\n", mark, l.Href, strings.TrimSpace(l.Text))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.db.Backlinks(models.NormalizeID(path))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(models.NavigationState(bl).Strings(), "\n")), nil
}

func (s *Server) readStackResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StackResourceURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
