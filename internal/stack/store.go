// Package stack holds the ordered list of open notes, the single source of
// truth for what is visibly rendered.
package stack

import (
	"github.com/starford/zettelstack/internal/models"
)

// Entry is one open note. Level is its 1-based position in the stack.
// Panel is an opaque handle owned by the renderer.
type Entry struct {
	ID    models.NoteID
	Level int
	Panel any
}

// Store is the ordered list of open notes. It is not safe for concurrent
// use; callers mutate it from the event loop only.
type Store struct {
	entries []Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Depth returns the number of open notes.
func (s *Store) Depth() int {
	return len(s.entries)
}

// normalizeLevel maps unspecified levels to depth+1 and clamps levels past
// the end so the stack never has gaps.
func (s *Store) normalizeLevel(level int) int {
	if level <= 0 || level > len(s.entries)+1 {
		return len(s.entries) + 1
	}
	return level
}

// Chain returns the identifiers open at levels below level.
func (s *Store) Chain(level int) models.NavigationState {
	level = s.normalizeLevel(level)
	out := make(models.NavigationState, 0, level-1)
	for _, e := range s.entries[:level-1] {
		out = append(out, e.ID)
	}
	return out
}

// CanPush reports whether id may be opened at level, i.e. it is not already
// part of the ancestor chain.
func (s *Store) CanPush(id models.NoteID, level int) bool {
	return !s.Chain(level).Contains(id)
}

// Push opens id at level. If id is already in the ancestor chain it returns
// false and leaves the store untouched. Otherwise every entry at level or
// deeper is discarded and id becomes the deepest entry.
func (s *Store) Push(id models.NoteID, level int, panel any) bool {
	level = s.normalizeLevel(level)
	if !s.CanPush(id, level) {
		return false
	}
	clear(s.entries[level-1:])
	s.entries = append(s.entries[:level-1], Entry{ID: id, Level: level, Panel: panel})
	return true
}

// Truncate removes every entry at level or deeper and returns them,
// shallowest first.
func (s *Store) Truncate(level int) []Entry {
	if level < 1 {
		level = 1
	}
	if level > len(s.entries) {
		return nil
	}
	removed := make([]Entry, len(s.entries)-(level-1))
	copy(removed, s.entries[level-1:])
	clear(s.entries[level-1:])
	s.entries = s.entries[:level-1]
	return removed
}

// CurrentState returns the identifiers of every open note in order.
func (s *Store) CurrentState() models.NavigationState {
	out := make(models.NavigationState, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.ID
	}
	return out
}

// Contains reports whether id is open at any level.
func (s *Store) Contains(id models.NoteID) bool {
	for _, e := range s.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// At returns the entry at level.
func (s *Store) At(level int) (Entry, bool) {
	if level < 1 || level > len(s.entries) {
		return Entry{}, false
	}
	return s.entries[level-1], true
}

// Entries returns a copy of the open entries.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Reset drops every entry.
func (s *Store) Reset() {
	clear(s.entries)
	s.entries = s.entries[:0]
}
