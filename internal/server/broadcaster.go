package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dotcommander/codexmem/internal/models"
)

// clientBuffer is how many events a subscriber may lag before drops start.
const clientBuffer = 16

// Broadcaster fans events out to SSE subscribers. Publishing never blocks:
// a subscriber that stops draining loses events rather than stalling the
// request handlers that publish.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan models.BroadcastEvent
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]chan models.BroadcastEvent)}
}

// Subscribe registers a new client and returns its id and event channel.
func (b *Broadcaster) Subscribe() (string, <-chan models.BroadcastEvent) {
	id := uuid.NewString()
	ch := make(chan models.BroadcastEvent, clientBuffer)

	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()

	slog.Debug("sse client connected", "client", id)
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		close(ch)
		slog.Debug("sse client disconnected", "client", id)
	}
}

// Publish delivers an event to every subscriber, dropping it for clients
// whose buffer is full.
func (b *Broadcaster) Publish(ev models.BroadcastEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			slog.Debug("sse client lagging, event dropped", "client", id, "event", ev.Type)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
