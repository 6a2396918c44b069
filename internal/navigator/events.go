package navigator

import (
	"github.com/starford/zettelstack/internal/sse"
)

// Navigation event types.
const (
	EventLoaded      = "nav.loaded"
	EventLoadFailed  = "nav.load_failed"
	EventPushed      = "nav.pushed"
	EventOpened      = "nav.opened"
	EventRestored    = "nav.restored"
	EventAlreadyOpen = "nav.already_open"
	EventFetchFailed = "nav.fetch_failed"
)

// Publisher receives navigation events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event) {}

func (n *Navigator) publish(kind string, data map[string]any) {
	n.events.Publish(sse.Event{Type: kind, Data: data})
}
