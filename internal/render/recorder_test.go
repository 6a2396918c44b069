package render

import (
	"sync"
	"time"
)

type effect struct {
	Kind  string
	ID    string
	Level int
}

type recorder struct {
	mu      sync.Mutex
	effects []effect
}

func (r *recorder) ScrollIntoView(p PanelView) {
	r.add(effect{Kind: "scroll", ID: string(p.ID), Level: p.Level})
}

func (r *recorder) FadeIn(p PanelView, _ time.Duration) {
	r.add(effect{Kind: "fade", ID: string(p.ID), Level: p.Level})
}

func (r *recorder) Blink(level int, href string, _ time.Duration) {
	r.add(effect{Kind: "blink", ID: href, Level: level})
}

func (r *recorder) add(e effect) {
	r.mu.Lock()
	r.effects = append(r.effects, e)
	r.mu.Unlock()
}

func (r *recorder) Effects() []effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]effect, len(r.effects))
	copy(out, r.effects)
	return out
}

func (r *recorder) Count(kind string) int {
	n := 0
	for _, e := range r.Effects() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
