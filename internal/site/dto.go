package site

import (
	"time"

	"github.com/starford/zettelstack/internal/models"
)

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID        string    `json:"id" example:"/12.html"`
	Node      string    `json:"node" example:"12"`
	Title     string    `json:"title" example:"Twelve"`
	Checksum  string    `json:"checksum" example:"abc123..."`
	Outgoing  int       `json:"outgoing" example:"3"`
	Incoming  int       `json:"incoming" example:"1"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteDetail is a note with its links in both directions.
type NoteDetail struct {
	NoteListItem
	Links     []string `json:"links"`
	Backlinks []string `json:"backlinks"`
}

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes"`
	Total int            `json:"total" example:"42"`
}

// GraphResponse is the neighborhood of a note in the link graph.
type GraphResponse struct {
	Nodes []models.GraphNode `json:"nodes"`
	Edges []models.GraphEdge `json:"edges"`
}

// OpenRequest loads an address in the viewer session.
type OpenRequest struct {
	Address string `json:"address" example:"/12.html?note=/13.html"`
}

// FollowRequest clicks a link inside a panel.
type FollowRequest struct {
	Level int    `json:"level" example:"1"`
	Href  string `json:"href" example:"13.html"`
}

// GraphNodeRequest double-clicks a node of a panel's graph.
type GraphNodeRequest struct {
	Level int    `json:"level" example:"2"`
	Node  string `json:"node" example:"14"`
}

// ActionResponse reports the outcome of a session action and the settled
// session.
type ActionResponse struct {
	Opened  bool `json:"opened"`
	Moved   bool `json:"moved,omitempty"`
	Session any  `json:"session"`
}
