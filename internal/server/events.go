package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

// sseEvent is an SSE message to send to subscribers.
type sseEvent struct {
	Event string
	Data  string
}

// Events broadcasts session changes to SSE subscribers. It implements
// session.Observer and never blocks the caller.
type Events struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[chan sseEvent]struct{}
}

// NewEvents creates an empty broadcaster.
func NewEvents(log *slog.Logger) *Events {
	return &Events{log: log, subs: make(map[chan sseEvent]struct{})}
}

func (e *Events) broadcast(event sseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- event:
		default:
			// slow subscriber, skip
		}
	}
}

func (e *Events) subscribe() chan sseEvent {
	ch := make(chan sseEvent, 32)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *Events) unsubscribe(ch chan sseEvent) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}

func (e *Events) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.log.Error("encoding session event", "event", event, "error", err)
		return
	}
	e.broadcast(sseEvent{Event: event, Data: string(data)})
}

func (e *Events) SessionStarted(doc models.Session)  { e.send("started", doc) }
func (e *Events) SessionChanged(doc models.Session)  { e.send("changed", doc) }
func (e *Events) SessionEnded(doc models.Session)    { e.send("ended", doc) }
func (e *Events) SessionRestored(doc models.Session) { e.send("restored", doc) }

func (e *Events) SessionDiscarded(id uuid.UUID) {
	e.send("discarded", map[string]string{"id": id.String()})
}

// handleSessionEvents streams session documents as they change. The current
// document, if any, is sent first.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	if doc, ok := s.deps.Sessions.Snapshot(); ok {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", mustJSON(doc))
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data)
			flusher.Flush()
		}
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
