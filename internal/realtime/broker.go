// Package realtime fans out node change events to websocket subscribers.
package realtime

import (
	"encoding/json"
	"sync"
)

// Event types.
const (
	NodeAdded      = "node.added"
	NodeUpdated    = "node.updated"
	NodeDeleted    = "node.deleted"
	CacheRefreshed = "cache.refreshed"
	PeersUpdated   = "peers.updated"
)

// Event is the message sent to subscribers.
type Event struct {
	Payload any    `json:"payload,omitempty"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// Broker distributes events to subscribers. Slow subscribers lose messages
// instead of blocking publishers.
type Broker struct {
	clients map[chan []byte]struct{}
	mu      sync.RWMutex
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]struct{})}
}

// Subscribe registers a client channel and returns it with its cleanup function.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cleanup
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish broadcasts evt to all subscribers. A nil broker drops the event.
func (b *Broker) Publish(evt Event) {
	if b == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
		}
	}
}
