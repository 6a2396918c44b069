package models

import (
	"net/url"
	"path"
	"strings"
)

// NoteID identifies a note resource by its normalized URL path.
type NoteID string

// NormalizeID turns a URL path (or a raw href path) into a NoteID:
// slash-rooted, cleaned, without query or fragment.
func NormalizeID(p string) NoteID {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return ""
	}
	return NoteID(path.Clean("/" + p))
}

// IDFromURL returns the NoteID of u's path.
func IDFromURL(u *url.URL) NoteID {
	if u == nil {
		return ""
	}
	return NormalizeID(u.Path)
}

// NavigationState is an ordered list of open notes, outermost first.
type NavigationState []NoteID

// Index returns the position of id in s or -1.
func (s NavigationState) Index(id NoteID) int {
	for i, v := range s {
		if v == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is present in s.
func (s NavigationState) Contains(id NoteID) bool {
	return s.Index(id) >= 0
}

// Truncate returns a copy of s holding at most n identifiers.
func (s NavigationState) Truncate(n int) NavigationState {
	if n < 0 {
		n = 0
	}
	if n > len(s) {
		n = len(s)
	}
	out := make(NavigationState, n)
	copy(out, s[:n])
	return out
}

// Append returns a copy of s with id appended.
func (s NavigationState) Append(id NoteID) NavigationState {
	out := make(NavigationState, len(s), len(s)+1)
	copy(out, s)
	return append(out, id)
}

// Equal reports whether both states hold the same identifiers in order.
func (s NavigationState) Equal(other NavigationState) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Strings returns the identifiers as plain strings.
func (s NavigationState) Strings() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = string(id)
	}
	return out
}

// HistoryRecord is the payload stored with a pushed history entry: the
// query state truncated to one level below the opened note, and the level
// the push happened at.
type HistoryRecord struct {
	Stacks NavigationState `json:"stacks"`
	Level  int             `json:"level"`
}
