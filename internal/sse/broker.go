// Package sse implements a Server-Sent Events broker for note changes and
// viewer navigation.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/zettelstack/internal/models"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Options tunes a Broker. Zero values take the defaults.
type Options struct {
	// GraphThrottle is the minimum gap between graph.updated events.
	GraphThrottle time.Duration
	// Replay is how many recent events are kept for clients reconnecting
	// with Last-Event-ID.
	Replay int
	// Heartbeat is the interval of keep-alive comments on open streams.
	Heartbeat time.Duration
}

const clientBuffer = 64

type noteEventReq struct {
	kind string
	id   models.NoteID
}

type subscribeReq struct {
	ch       chan []byte
	after    uint64
	prefixes []string
}

func (s subscribeReq) wants(eventType string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// frame is one encoded event.
type frame struct {
	seq  uint64
	typ  string
	wire []byte
}

// hub is the state owned by the broker goroutine.
type hub struct {
	clients   map[chan []byte]subscribeReq
	seq       uint64
	recent    []frame
	replay    int
	graphMin  time.Duration
	lastGraph time.Time
}

func (h *hub) broadcast(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	h.seq++
	f := frame{
		seq:  h.seq,
		typ:  event.Type,
		wire: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", h.seq, event.Type, payload)),
	}
	if h.replay > 0 {
		if len(h.recent) == h.replay {
			h.recent = h.recent[1:]
		}
		h.recent = append(h.recent, f)
	}

	for ch, sub := range h.clients {
		if !sub.wants(f.typ) {
			continue
		}
		select {
		case ch <- f.wire:
		default:
			// Slow client; drop rather than stall the broker.
		}
	}
}

func (h *hub) subscribe(req subscribeReq) {
	h.clients[req.ch] = req
	if req.after == 0 {
		return
	}
	for _, f := range h.recent {
		if f.seq <= req.after || !req.wants(f.typ) {
			continue
		}
		select {
		case req.ch <- f.wire:
		default:
			return
		}
	}
}

func (h *hub) noteChanged(req noteEventReq) {
	switch req.kind {
	case "created", "updated", "deleted":
	default:
		return
	}
	h.broadcast(Event{Type: "note." + req.kind, Data: map[string]string{"id": string(req.id)}})

	if now := time.Now(); now.Sub(h.lastGraph) >= h.graphMin {
		h.lastGraph = now
		h.broadcast(Event{Type: "graph.updated", Data: map[string]string{}})
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal goroutine owns the client set, the replay buffer and the
// graph throttle. Public methods talk to it over channels.
type Broker struct {
	opts Options

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker.
func NewBroker(opts Options) *Broker {
	if opts.GraphThrottle <= 0 {
		opts.GraphThrottle = 2 * time.Second
	}
	if opts.Replay == 0 {
		opts.Replay = 128
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}

	b := &Broker{
		opts:          opts,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	h := &hub{
		clients:  make(map[chan []byte]subscribeReq),
		replay:   max(b.opts.Replay, 0),
		graphMin: b.opts.GraphThrottle,
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			return
		case req := <-b.subscribeCh:
			h.subscribe(req)
		case ch := <-b.unsubscribeCh:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case event := <-b.publishCh:
			h.broadcast(event)
		case req := <-b.noteEventCh:
			h.noteChanged(req)
		case resp := <-b.countReqCh:
			resp <- len(h.clients)
		}
	}
}

// Close stops the broker and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a live client. With prefixes, only events whose type
// starts with one of them are delivered.
func (b *Broker) Subscribe(prefixes ...string) chan []byte {
	return b.SubscribeFrom(0, prefixes...)
}

// SubscribeFrom is Subscribe for a reconnecting client: buffered events with
// an id above after are delivered first.
func (b *Broker) SubscribeFrom(after uint64, prefixes ...string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, after: after, prefixes: prefixes}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all interested clients. Navigator events
// arrive here.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a note page change and a throttled
// graph.updated event. Kinds other than created, updated and deleted are
// ignored.
func (b *Broker) PublishNoteEvent(kind string, id models.NoteID) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, id: id}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Repeated "type"
// query values restrict the stream to matching event type prefixes. A
// Last-Event-ID header replays what the client missed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeFrom(after, r.URL.Query()["type"]...)
	defer b.Unsubscribe(ch)

	heartbeat := time.NewTicker(b.opts.Heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
