package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

const (
	eventBuffer       = 32
	heartbeatInterval = 15 * time.Second
)

// EventHub fans status events out to the event streams open for a session.
// Slow subscribers lose events rather than stall the pipeline.
type EventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan ports.StatusEvent]struct{}
}

var _ ports.StatusPublisher = (*EventHub)(nil)

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan ports.StatusEvent]struct{})}
}

func (h *EventHub) PublishStatus(_ context.Context, event ports.StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of events for sessionID and a function that
// releases it.
func (h *EventHub) Subscribe(sessionID string) (<-chan ports.StatusEvent, func()) {
	ch := make(chan ports.StatusEvent, eventBuffer)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan ports.StatusEvent]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
		})
	}
}

func (h *EventHub) subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	events, release := rt.events.Subscribe(sessionID)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				rt.logger.Warn("status_event_encode_failed", "session_id", sessionID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(event), payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventName(event ports.StatusEvent) string {
	switch {
	case event.Document != nil:
		return "document"
	case event.Progress != nil:
		return "progress"
	case event.Wizard != nil:
		return "wizard"
	default:
		return "status"
	}
}
