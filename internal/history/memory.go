package history

import (
	"net/url"
	"sync"

	"github.com/starford/zettelstack/internal/models"
)

type memEntry struct {
	url    *url.URL
	record *models.HistoryRecord
}

// Memory is an in-process Browser with a back/forward list.
type Memory struct {
	mu        sync.Mutex
	entries   []memEntry
	cursor    int
	listeners []func()
	onReload  func(*url.URL)
}

// NewMemory starts a history at initial.
func NewMemory(initial *url.URL) *Memory {
	return &Memory{entries: []memEntry{{url: cloneURL(initial)}}}
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{}
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

// OnPopState registers fn to run after every Back or Forward.
func (m *Memory) OnPopState(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// OnReload sets the hook Reload invokes with the current address.
func (m *Memory) OnReload(fn func(*url.URL)) {
	m.mu.Lock()
	m.onReload = fn
	m.mu.Unlock()
}

// Location returns a copy of the current address.
func (m *Memory) Location() *url.URL {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneURL(m.entries[m.cursor].url)
}

// Navigate replaces forward history with a plain entry for u, as typing an
// address would. It does not reload.
func (m *Memory) Navigate(u *url.URL) {
	m.mu.Lock()
	m.entries = append(m.entries[:m.cursor+1], memEntry{url: cloneURL(u)})
	m.cursor++
	m.mu.Unlock()
}

// PushState drops forward entries and appends u.
func (m *Memory) PushState(rec models.HistoryRecord, u *url.URL) {
	r := models.HistoryRecord{Stacks: rec.Stacks.Truncate(len(rec.Stacks)), Level: rec.Level}
	m.mu.Lock()
	m.entries = append(m.entries[:m.cursor+1], memEntry{url: cloneURL(u), record: &r})
	m.cursor++
	m.mu.Unlock()
}

// State returns the record of the current entry, if it has one.
func (m *Memory) State() (models.HistoryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.entries[m.cursor].record
	if rec == nil {
		return models.HistoryRecord{}, false
	}
	return *rec, true
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reload calls the reload hook with the current address.
func (m *Memory) Reload() {
	m.mu.Lock()
	fn := m.onReload
	u := cloneURL(m.entries[m.cursor].url)
	m.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// Back moves one entry back and fires popstate. It reports false at the
// first entry.
func (m *Memory) Back() bool {
	return m.move(-1)
}

// Forward moves one entry forward and fires popstate.
func (m *Memory) Forward() bool {
	return m.move(1)
}

func (m *Memory) move(delta int) bool {
	m.mu.Lock()
	next := m.cursor + delta
	if next < 0 || next >= len(m.entries) {
		m.mu.Unlock()
		return false
	}
	m.cursor = next
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}
