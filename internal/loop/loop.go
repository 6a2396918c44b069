// Package loop provides the single event-loop goroutine that owns the
// navigation state. Stack, DOM and fetch bookkeeping are touched only from
// tasks running on it, so no callback can observe a half-applied mutation.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when a task is submitted to a stopped loop.
var ErrClosed = errors.New("loop: closed")

// DefaultTick is the deferral used by AfterTick when none is configured.
const DefaultTick = 10 * time.Millisecond

// Loop runs posted tasks one at a time, in submission order.
type Loop struct {
	tick   time.Duration
	logger *slog.Logger

	tasks   chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts a loop. tick is the scheduling deferral used by AfterTick.
func New(tick time.Duration, logger *slog.Logger) *Loop {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		tick:    tick,
		logger:  logger,
		tasks:   make(chan func(), 256),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.stopCh:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

// Post queues fn and returns immediately. It reports false if the loop is
// closed.
func (l *Loop) Post(fn func()) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrClosed
	}
}

// AfterTick posts fn after one scheduling tick, letting tasks queued in the
// meantime run first.
func (l *Loop) AfterTick(fn func()) {
	time.AfterFunc(l.tick, func() {
		if !l.Post(fn) {
			l.logger.Debug("loop: tick dropped after close")
		}
	})
}

// Tick returns the configured scheduling deferral.
func (l *Loop) Tick() time.Duration {
	return l.tick
}

// Close stops the loop. Queued tasks that have not started are dropped.
func (l *Loop) Close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
	<-l.stopped
}
