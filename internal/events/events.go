// Package events provides an in-process hub broadcasting appended-block
// events to websocket subscribers.
package events

import (
	"fmt"
	"sync"
)

// BlockEvent describes one block that was just appended to the chain.
type BlockEvent struct {
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint"`
	Timestamp   string `json:"timestamp"`
	PatientID   string `json:"patient_id,omitempty"`
}

// Hub maintains a mapping of subscriber ids to channels so goroutines can
// register and receive block events.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan BlockEvent
}

// NewHub constructs a hub for registering and receiving block events.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]chan BlockEvent),
	}
}

// Acquire takes a unique id and returns a channel that receives every event
// published after the call. Acquiring the same id twice returns the same
// channel.
func (h *Hub) Acquire(id string) chan BlockEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, exists := h.subs[id]
	if exists {
		return ch
	}

	// A slow websocket receiver drops events rather than blocking appends;
	// the buffer gives it room to catch up.
	const eventBuffer = 100

	h.subs[id] = make(chan BlockEvent, eventBuffer)
	return h.subs[id]
}

// Release closes and removes the channel registered under id.
func (h *Hub) Release(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, exists := h.subs[id]
	if !exists {
		return fmt.Errorf("subscriber id %q does not exist", id)
	}

	delete(h.subs, id)
	close(ch)

	return nil
}

// Publish sends the event to every subscriber. Subscribers whose buffers are
// full miss the event; Publish never blocks an append.
func (h *Hub) Publish(ev BlockEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown closes and removes all subscriber channels.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
