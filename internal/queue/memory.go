package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/omomi/internal/event"
)

// Memory is a process-local queue. It does not survive a restart and is
// meant for tests and for running without a data directory.
type Memory struct {
	mu      sync.Mutex
	records []Record
	nextID  int64
	closed  bool
	now     func() time.Time
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{nextID: 1, now: time.Now}
}

func (q *Memory) Enqueue(_ context.Context, ev event.Event) (Record, error) {
	if err := checkDurable(ev); err != nil {
		return Record{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Record{}, ErrClosed
	}
	rec := Record{ID: q.nextID, AccountID: event.AccountID(ev), Event: ev, EnqueuedAt: q.now().UTC()}
	q.nextID++
	q.records = append(q.records, rec)
	return rec, nil
}

func (q *Memory) Next(context.Context) (Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Record{}, false, ErrClosed
	}
	if len(q.records) == 0 {
		return Record{}, false, nil
	}
	return q.records[0], true, nil
}

func (q *Memory) Delete(_ context.Context, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	for i := range q.records {
		if q.records[i].ID == rec.ID {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *Memory) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.records), nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	q.closed = true
	q.records = nil
	q.mu.Unlock()
	return nil
}
