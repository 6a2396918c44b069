package testutil

import (
	"sync"
	"time"

	"github.com/starford/zettelstack/internal/render"
)

// Effect is one recorded render effect.
type Effect struct {
	Kind  string
	ID    string
	Level int
}

// Effects records render effects in order. Safe for concurrent use.
type Effects struct {
	mu      sync.Mutex
	effects []Effect
}

var _ render.Effects = (*Effects)(nil)

// ScrollIntoView records a "scroll" effect.
func (r *Effects) ScrollIntoView(p render.PanelView) {
	r.add(Effect{Kind: "scroll", ID: string(p.ID), Level: p.Level})
}

// FadeIn records a "fade" effect.
func (r *Effects) FadeIn(p render.PanelView, _ time.Duration) {
	r.add(Effect{Kind: "fade", ID: string(p.ID), Level: p.Level})
}

// Blink records a "blink" effect; ID holds the href.
func (r *Effects) Blink(level int, href string, _ time.Duration) {
	r.add(Effect{Kind: "blink", ID: href, Level: level})
}

func (r *Effects) add(e Effect) {
	r.mu.Lock()
	r.effects = append(r.effects, e)
	r.mu.Unlock()
}

// Recorded returns a copy of the recorded effects.
func (r *Effects) Recorded() []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// Count returns how many effects of kind were recorded.
func (r *Effects) Count(kind string) int {
	n := 0
	for _, e := range r.Recorded() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
