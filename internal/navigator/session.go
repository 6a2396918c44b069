package navigator

import (
	"fmt"
	"log/slog"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/fetch"
	"github.com/starford/zettelstack/internal/models"
)

// session is the fetch.Sink of one page load. Once another page loads, its
// generation no longer matches and every late completion is dropped.
type session struct {
	n   *Navigator
	gen uint64
}

func (s *session) live() bool {
	return s.gen == s.n.gen
}

func (s *session) Chain(level int) models.NavigationState {
	if !s.live() {
		return nil
	}
	return s.n.store.Chain(level)
}

func (s *session) Commit(item fetch.Item) error {
	n := s.n
	if !s.live() {
		return fmt.Errorf("navigator: commit %s: %w", item.ID, apperr.ErrStale)
	}
	if !n.store.CanPush(item.ID, item.Level) {
		return fmt.Errorf("navigator: commit %s: %w", item.ID, apperr.ErrAlreadyOpen)
	}
	panel, err := n.bridge.Commit(item.ID, item.Content, item.Level)
	if err != nil {
		return err
	}
	n.store.Push(item.ID, item.Level, panel)
	n.logger.Debug("navigator: note opened", slog.String("id", string(item.ID)), slog.Int("level", item.Level))
	n.publish(EventOpened, map[string]any{"id": string(item.ID), "level": item.Level})
	return nil
}

func (s *session) CommitBatch(items []fetch.Item) error {
	n := s.n
	if !s.live() {
		return fmt.Errorf("navigator: commit batch: %w", apperr.ErrStale)
	}
	panels, err := n.bridge.CommitAll(items)
	if err != nil {
		return err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		n.store.Push(it.ID, it.Level, panels[i])
		ids[i] = string(it.ID)
	}
	n.logger.Debug("navigator: stack restored", slog.Int("notes", len(items)))
	n.publish(EventRestored, map[string]any{"ids": ids})
	return nil
}

func (s *session) Fail(ids []models.NoteID, err error) {
	n := s.n
	if !s.live() || fetch.IsStale(err) {
		return
	}
	n.failures = append(n.failures, Failure{IDs: append([]models.NoteID(nil), ids...), Error: err.Error()})
	n.publish(EventFetchFailed, map[string]any{"ids": models.NavigationState(ids).Strings(), "error": err.Error()})
}
