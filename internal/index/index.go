package index

import "github.com/starford/zettelstack/internal/models"

// LinkIndex defines the read/write operations on the note link index.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type LinkIndex interface {
	UpsertNote(n NoteRow, links []models.NoteID) error
	DeleteNote(id models.NoteID) error
	GetChecksum(id models.NoteID) (string, error)
	GetNote(id models.NoteID) (*NoteRow, error)
	ListNotes(limit, offset int) ([]NoteRow, int, error)
	Outgoing(id models.NoteID) ([]models.NoteID, error)
	Backlinks(target models.NoteID) ([]models.NoteID, error)
	Neighborhood(id models.NoteID, depth int) ([]models.GraphNode, []models.GraphEdge, error)
	AllChecksums() (map[models.NoteID]string, error)
	Close() error
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)
