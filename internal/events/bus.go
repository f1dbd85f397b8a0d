// Package events fans committed settlements out to websocket subscribers and,
// when configured, to Kafka.
package events

import (
	"sync"
)

type Event struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Data   any    `json:"data"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]string
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]string)}
}

// Subscribe registers a channel receiving events for userID, or every event
// when userID is empty.
func (b *Bus) Subscribe(userID string) chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = userID
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; slow subscribers miss events.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch, userID := range b.subs {
		if userID != "" && userID != evt.UserID {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
