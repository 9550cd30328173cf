// Package feed keeps a bounded history of relay activity and fans new events out
// to live subscribers such as the operator websocket stream.
package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a kind of relay activity.
type EventType string

const (
	EventForwarded          EventType = "forwarded"
	EventReplied            EventType = "replied"
	EventReplyFailed        EventType = "reply_failed"
	EventBroadcastCaptured  EventType = "broadcast_captured"
	EventBroadcastSent      EventType = "broadcast_sent"
	EventBroadcastCancelled EventType = "broadcast_cancelled"
	EventSelectionReset     EventType = "selection_reset"
)

// Event is one entry in the feed.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	At             time.Time `json:"at"`
	ChatID         int64     `json:"chat_id,omitempty"`
	UserID         int64     `json:"user_id,omitempty"`
	RelayMessageID int       `json:"relay_message_id,omitempty"`
	BroadcastID    string    `json:"broadcast_id,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

const subscriberBuffer = 32

// Hub is safe for concurrent use. A nil *Hub discards events.
type Hub struct {
	mu     sync.RWMutex
	ring   []Event
	head   int // next write position
	full   bool
	subs   map[int]chan Event
	nextID int
}

// NewHub creates a hub that remembers the last size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 200
	}
	return &Hub{
		ring: make([]Event, size),
		subs: make(map[int]chan Event),
	}
}

// Publish records ev and delivers it to subscribers. Subscribers that are not
// keeping up miss the event rather than blocking the publisher.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
	if h.head == 0 {
		h.full = true
	}

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns remembered events, oldest first.
func (h *Hub) Recent() []Event {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		return append([]Event(nil), h.ring[:h.head]...)
	}
	out := make([]Event, 0, len(h.ring))
	out = append(out, h.ring[h.head:]...)
	return append(out, h.ring[:h.head]...)
}

// Subscribe registers a live listener. The returned cancel func must be called
// to release it; the channel is closed afterwards.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
