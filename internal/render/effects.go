package render

import (
	"log/slog"
	"time"
)

// Effects performs the layout-dependent side effects of rendering.
type Effects interface {
	ScrollIntoView(p PanelView)
	FadeIn(p PanelView, d time.Duration)
	Blink(level int, href string, d time.Duration)
}

// LogEffects reports effects to a logger. It is the default for headless
// sessions.
type LogEffects struct {
	Logger *slog.Logger
}

func (e LogEffects) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// ScrollIntoView logs the scroll.
func (e LogEffects) ScrollIntoView(p PanelView) {
	e.logger().Debug("render: scroll into view", slog.String("id", string(p.ID)), slog.Int("level", p.Level))
}

// FadeIn logs the fade-in.
func (e LogEffects) FadeIn(p PanelView, d time.Duration) {
	e.logger().Debug("render: fade in",
		slog.String("id", string(p.ID)), slog.Int("level", p.Level), slog.Duration("duration", d))
}

// Blink logs the blink.
func (e LogEffects) Blink(level int, href string, d time.Duration) {
	e.logger().Debug("render: blink", slog.Int("level", level), slog.String("href", href), slog.Duration("duration", d))
}
