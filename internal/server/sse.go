package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// historyPerRun caps the replay buffer; a run emits at most a few dozen
// events, the cap only guards against a looping publisher.
const historyPerRun = 128

// Hub fans dashboard events out to SSE clients with per-run history
// replay. Events arrive from the Redis channel through Bridge, so every
// replica serves the same stream regardless of which one ran the stage.
type Hub struct {
	mu      sync.Mutex
	history map[string][]model.DashboardEvent
	clients map[uint64]*hubClient
	nextID  uint64
	closed  bool
	doneCh  chan struct{}
}

type hubClient struct {
	runID string
	ch    chan model.DashboardEvent
}

func NewHub() *Hub {
	return &Hub{
		history: make(map[string][]model.DashboardEvent),
		clients: make(map[uint64]*hubClient),
		doneCh:  make(chan struct{}),
	}
}

// Bridge consumes a dashboard event channel until it closes. Run it in
// its own goroutine against coord.SubscribeDashboard.
func (h *Hub) Bridge(events <-chan model.DashboardEvent) {
	for ev := range events {
		h.Publish(ev)
	}
}

// Publish records an event and delivers it to matching subscribers.
// Slow clients are dropped rather than allowed to block the stream.
func (h *Hub) Publish(ev model.DashboardEvent) {
	if ev.RunID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	hist := append(h.history[ev.RunID], ev)
	if len(hist) > historyPerRun {
		hist = hist[len(hist)-historyPerRun:]
	}
	h.history[ev.RunID] = hist

	for id, c := range h.clients {
		if c.runID != ev.RunID {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			close(c.ch)
			delete(h.clients, id)
		}
	}
}

// Subscribe replays the run's history and then follows live events. The
// done channel closes only when the hub shuts down, so callers can tell
// a shutdown from a slow-client drop.
func (h *Hub) Subscribe(runID string) (<-chan model.DashboardEvent, <-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.history[runID]
	ch := make(chan model.DashboardEvent, len(hist)+64)
	for _, ev := range hist {
		ch <- ev
	}

	if h.closed {
		close(ch)
		return ch, h.doneCh, func() {}
	}

	id := h.nextID
	h.nextID++
	h.clients[id] = &hubClient{runID: runID, ch: ch}
	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.clients[id]; ok {
			delete(h.clients, id)
			close(c.ch)
		}
	}
	return ch, h.doneCh, unsub
}

// Close drops every subscriber; used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.doneCh)
	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
}

// handleRunEvents streams a run's dashboard events as SSE.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	runID := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := s.hub.Subscribe(runID)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
					// Dropped for slowness; disconnect silently.
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
