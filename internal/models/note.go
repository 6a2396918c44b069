// Package models defines the domain types for zettelstack.
package models

import "time"

// NoteMetadata is a lightweight representation of a note page on disk.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link represents a directed edge between two note pages.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphNode is a node of a relation diagram embedded in a note.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// GraphEdge is an edge of a relation diagram embedded in a note.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}
