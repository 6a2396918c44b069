// Package history records stack pushes as browser history entries.
package history

import (
	"log/slog"
	"net/url"

	"github.com/starford/zettelstack/internal/address"
	"github.com/starford/zettelstack/internal/models"
)

// Browser is the session history of the hosting page.
type Browser interface {
	// Location returns the current address.
	Location() *url.URL
	// PushState appends an entry for u carrying rec and makes it current.
	PushState(rec models.HistoryRecord, u *url.URL)
	// Reload reloads the current address.
	Reload()
}

// Adapter pushes an entry on every successful stack push.
type Adapter struct {
	browser Browser
	codec   *address.Codec
	logger  *slog.Logger
}

// NewAdapter returns an Adapter writing addresses with codec.
func NewAdapter(b Browser, codec *address.Codec, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{browser: b, codec: codec, logger: logger}
}

// Push records that id was opened at level on top of chain, the stack
// state below level with the root note first. It returns the new address.
func (a *Adapter) Push(chain models.NavigationState, id models.NoteID, level int) *url.URL {
	var ancestors models.NavigationState
	if len(chain) > 1 {
		ancestors = chain[1:].Truncate(len(chain) - 1)
	}
	if ancestors == nil {
		ancestors = models.NavigationState{}
	}
	query := ancestors.Append(id)
	next := a.codec.Encode(a.browser.Location(), query, 0)
	a.browser.PushState(models.HistoryRecord{Stacks: ancestors, Level: level}, next)
	a.logger.Debug("history: entry pushed", slog.String("url", next.String()), slog.Int("level", level))
	return next
}

// PopState handles a back/forward traversal by reloading the address the
// browser landed on.
func (a *Adapter) PopState() {
	a.logger.Debug("history: popstate, reloading", slog.String("url", a.browser.Location().String()))
	a.browser.Reload()
}
