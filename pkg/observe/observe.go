// Package observe broadcasts turn and rate-controller events to local
// WebSocket subscribers, the way the teacher's pkg/transport wraps
// nhooyr.io/websocket for its own message transport. Unlike that
// client-facing transport, a Hub here is a fan-out server: every
// subscriber gets every event, and a slow subscriber is dropped rather
// than allowed to block the broadcaster.
package observe

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// EventKind enumerates the event payloads a Hub broadcasts.
type EventKind string

const (
	EventRateTick      EventKind = "rate_tick"
	EventTurnStarted   EventKind = "turn_started"
	EventTurnCompleted EventKind = "turn_completed"
	EventSessionError  EventKind = "session_error"
)

// Event is one broadcast message. Data is kind-specific and left as `any`
// so callers can pass a ratelimit.Tick, a tool event list, or an error
// description without this package depending on their types.
type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data"`
}

const subscriberBuffer = 32

// Hub fans out Events to WebSocket subscribers. The zero value is not
// usable; construct with NewHub.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Broadcast sends ev to every current subscriber. Subscribers that can't
// keep up are dropped rather than blocking the sender.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeHTTP accepts the connection as a WebSocket and streams Events to it
// as JSON text frames until the client disconnects or the request context
// is cancelled.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("observe: accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// RelayTicks forwards every value received on ticks to the Hub as
// EventRateTick, until ctx is cancelled or ticks is closed. Intended to be
// run in its own goroutine against a ratelimit.Controller's Ticks channel.
func RelayTicks[T any](ctx context.Context, h *Hub, ticks <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			h.Broadcast(Event{Kind: EventRateTick, Data: tick})
		}
	}
}
