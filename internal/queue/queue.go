// Package queue holds the durable brain event queue: mutation requests that
// must survive a crash and are drained ahead of scheduled work.
//
// Records are consumed strictly in enqueue order. Next peeks at the head;
// the consumer deletes the record only after it has been handled, so a
// crash mid-handler replays it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/omomi/internal/event"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrNotDurable rejects events that only live in the in-memory inbox.
	ErrNotDurable = errors.New("queue: event kind is not durable")
)

// Record is one queued event.
type Record struct {
	ID         int64
	AccountID  int64
	Event      event.Event
	EnqueuedAt time.Time
}

// Queue is implemented by every backend.
type Queue interface {
	Enqueue(ctx context.Context, ev event.Event) (Record, error)
	// Next returns the oldest record without removing it. ok is false when
	// the queue is empty. An undecodable head yields a *DecodeError.
	Next(ctx context.Context) (rec Record, ok bool, err error)
	// Delete removes a record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, rec Record) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Waker is implemented by backends that observe enqueues made by other
// processes. A value arrives on the channel after each such enqueue;
// wake-ups may coalesce.
type Waker interface {
	Wake() <-chan struct{}
}

func checkDurable(ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("queue: enqueue: nil event")
	}
	if !event.Durable(ev.Kind()) {
		return fmt.Errorf("%w: %s", ErrNotDurable, ev.Kind())
	}
	return nil
}

// DecodeError is returned by Next when the head record cannot be decoded.
// Record carries the row's ID so the consumer can delete it; Event is nil.
type DecodeError struct {
	Record Record
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("queue: decode record %d: %v", e.Record.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decodeRow rebuilds a record from its stored columns.
func decodeRow(id, accountID int64, kind int, payload []byte, enqueuedAt time.Time) (Record, error) {
	rec := Record{ID: id, AccountID: accountID, EnqueuedAt: enqueuedAt}
	ev, err := event.UnmarshalPayload(event.Kind(kind), payload)
	if err != nil {
		return rec, &DecodeError{Record: rec, Err: err}
	}
	rec.Event = ev
	return rec, nil
}
