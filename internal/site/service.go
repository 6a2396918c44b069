package site

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/index"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/storage"
)

// Service coordinates site storage and the link index for the HTTP layer.
type Service struct {
	store storage.Provider
	db    index.LinkIndex
}

// NewService creates a new site service.
func NewService(store storage.Provider, db index.LinkIndex) *Service {
	return &Service{store: store, db: db}
}

// ListNotes returns a page of indexed notes.
func (s *Service) ListNotes(_ context.Context, limit, offset int) ([]NoteListItem, int, error) {
	rows, total, err := s.db.ListNotes(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, len(rows))
	for i, r := range rows {
		items[i] = listItem(r)
	}
	return items, total, nil
}

// GetNote returns a note's metadata with outgoing links and backlinks.
func (s *Service) GetNote(_ context.Context, id models.NoteID) (*NoteDetail, error) {
	row, err := s.db.GetNote(id)
	if err != nil {
		return nil, err
	}
	out, err := s.db.Outgoing(id)
	if err != nil {
		return nil, err
	}
	bl, err := s.db.Backlinks(id)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		NoteListItem: listItem(*row),
		Links:        nonNil(models.NavigationState(out).Strings()),
		Backlinks:    nonNil(models.NavigationState(bl).Strings()),
	}, nil
}

// Graph returns the neighborhood of a note.
func (s *Service) Graph(_ context.Context, id models.NoteID, depth int) (*GraphResponse, error) {
	nodes, edges, err := s.db.Neighborhood(id, depth)
	if err != nil {
		return nil, err
	}
	return &GraphResponse{Nodes: nonNil(nodes), Edges: nonNil(edges)}, nil
}

// Page reads a raw site file.
func (s *Service) Page(_ context.Context, id models.NoteID) ([]byte, error) {
	data, err := s.store.Read(string(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("site: %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func listItem(r index.NoteRow) NoteListItem {
	return NoteListItem{
		ID:        string(r.ID),
		Node:      index.NodeID(r.ID),
		Title:     r.Title,
		Checksum:  r.Checksum,
		Outgoing:  r.Outgoing,
		Incoming:  r.Incoming,
		UpdatedAt: r.UpdatedAt.UTC().Truncate(time.Second),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
