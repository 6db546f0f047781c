package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/storage"
)

// Postgres stores the queue in the brain_events table so that several
// processes (the daemon, the CLI) can share it. Inserts publish on a
// NOTIFY channel which Watch turns into wake-ups.
type Postgres struct {
	db     *storage.DB
	logger *slog.Logger
	wake   chan struct{}
	closed atomic.Bool
}

// NewPostgres wraps a migrated storage.DB.
func NewPostgres(db *storage.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger, wake: make(chan struct{}, 1)}
}

func (q *Postgres) Enqueue(ctx context.Context, ev event.Event) (Record, error) {
	if err := checkDurable(ev); err != nil {
		return Record{}, err
	}
	if q.closed.Load() {
		return Record{}, ErrClosed
	}
	payload, err := event.MarshalPayload(ev)
	if err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	row, err := q.db.InsertBrainEvent(ctx, storage.BrainEventRow{
		AccountID: event.AccountID(ev),
		Kind:      int(ev.Kind()),
		Payload:   payload,
	})
	if err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	return Record{ID: row.ID, AccountID: row.AccountID, Event: ev, EnqueuedAt: row.EnqueuedAt.UTC()}, nil
}

func (q *Postgres) Next(ctx context.Context) (Record, bool, error) {
	if q.closed.Load() {
		return Record{}, false, ErrClosed
	}
	row, err := q.db.OldestBrainEvent(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("queue: next: %w", err)
	}
	rec, err := decodeRow(row.ID, row.AccountID, row.Kind, row.Payload, row.EnqueuedAt.UTC())
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (q *Postgres) Delete(ctx context.Context, rec Record) error {
	if q.closed.Load() {
		return ErrClosed
	}
	return q.db.DeleteBrainEvent(ctx, rec.ID)
}

func (q *Postgres) Len(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	return q.db.CountBrainEvents(ctx)
}

// Close marks the queue closed. The storage.DB belongs to the caller.
func (q *Postgres) Close() error {
	q.closed.Store(true)
	return nil
}

// Wake implements Waker.
func (q *Postgres) Wake() <-chan struct{} {
	return q.wake
}

// Watch listens for enqueue notifications until ctx is cancelled. It
// requires the storage.DB to have been opened with a notify DSN.
func (q *Postgres) Watch(ctx context.Context) error {
	if err := q.db.Listen(ctx, storage.ChannelBrainEvents); err != nil {
		return fmt.Errorf("queue: watch: %w", err)
	}
	for {
		_, payload, err := q.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("queue: watch: %w", err)
		}
		q.logger.Debug("queue: enqueue notification", "id", payload)
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}
