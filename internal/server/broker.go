package server

import (
	"log/slog"
	"sync"

	"github.com/ashita-ai/omomi/internal/notify"
)

// Broker fans engine notifications out to SSE subscribers. It is the
// notify.Sink behind the rate limiter, so every notification it sees has
// already been throttled.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

var _ notify.Sink = (*Broker)(nil)

// NewBroker creates a broker with no subscribers.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Notify broadcasts kind to every subscriber.
func (b *Broker) Notify(kind notify.Kind) {
	b.broadcast(formatSSE("notification", kind.String()))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped so one client cannot block the dispatcher.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Debug("broker: dropped event for slow subscribers", "count", dropped)
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
