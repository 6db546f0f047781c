package brain

import (
	"context"
	"sync"

	"github.com/ashita-ai/omomi/internal/event"
)

// inbox is the in-memory event queue feeding the dispatcher. Producers are
// HTTP handlers, the ticker and time variance timers; the dispatcher is the
// only consumer.
type inbox struct {
	mu    sync.Mutex
	items []event.Event
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (q *inbox) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *inbox) push(ev event.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

// pushIfAbsent appends ev unless an equal event is already queued.
func (q *inbox) pushIfAbsent(ev event.Event) bool {
	q.mu.Lock()
	for _, queued := range q.items {
		if queued == ev {
			q.mu.Unlock()
			return false
		}
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
	return true
}

// pushIfNotTail appends ev unless the last queued event has the same kind.
func (q *inbox) pushIfNotTail(ev event.Event) bool {
	q.mu.Lock()
	if n := len(q.items); n > 0 && q.items[n-1].Kind() == ev.Kind() {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *inbox) pushFront(ev event.Event) {
	q.mu.Lock()
	q.items = append([]event.Event{ev}, q.items...)
	q.mu.Unlock()
	q.signal()
}

// dropLeading removes consecutive events of kind from the head.
func (q *inbox) dropLeading(kind event.Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(q.items) && q.items[n].Kind() == kind {
		n++
	}
	q.items = q.items[n:]
	return n
}

// pop blocks until an event is available or ctx is done.
func (q *inbox) pop(ctx context.Context) (event.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
