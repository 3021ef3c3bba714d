// Package stream fans out post lifecycle events to connected subscribers.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventPostCreated = "post.created"
	EventPostDeleted = "post.deleted"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// PostCreated builds the event emitted after a successful create. The payload
// carries the stored post verbatim so subscribers see the same shape the REST
// response does.
func PostCreated(post interface{}) Event {
	return NewEvent(EventPostCreated, post)
}

// PostDeleted carries only identifiers; the body is already gone.
func PostDeleted(ownerID, postID string) Event {
	return NewEvent(EventPostDeleted, map[string]string{"userId": ownerID, "postId": postID})
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Publish never blocks; slow subscribers lose events.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
