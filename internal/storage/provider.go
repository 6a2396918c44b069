// Package storage defines read access to the generated note site.
package storage

import "github.com/starford/zettelstack/internal/models"

// NoteExt is the extension of note pages in the site directory.
const NoteExt = ".html"

// Provider is the interface for site file access.
type Provider interface {
	// List returns metadata for every note page under dir (relative to the site root).
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to the site root).
	Read(path string) ([]byte, error)
	// Root returns the absolute site directory.
	Root() string
}
