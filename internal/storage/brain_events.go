package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// BrainEventRow is one row of the durable event queue.
type BrainEventRow struct {
	ID         int64
	AccountID  int64
	Kind       int
	Payload    []byte
	EnqueuedAt time.Time
}

// InsertBrainEvent appends a row and notifies listeners with its id.
func (db *DB) InsertBrainEvent(ctx context.Context, row BrainEventRow) (BrainEventRow, error) {
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx,
			`INSERT INTO brain_events (account_id, kind, payload)
			 VALUES ($1, $2, $3)
			 RETURNING id, enqueued_at`,
			row.AccountID, row.Kind, row.Payload,
		).Scan(&row.ID, &row.EnqueuedAt)
	})
	if err != nil {
		return BrainEventRow{}, fmt.Errorf("storage: insert brain event: %w", err)
	}
	if err := db.Notify(ctx, ChannelBrainEvents, strconv.FormatInt(row.ID, 10)); err != nil {
		db.logger.Debug("storage: brain event notify failed", "id", row.ID, "error", err)
	}
	return row, nil
}

// OldestBrainEvent returns the row with the lowest id, or ErrNotFound.
func (db *DB) OldestBrainEvent(ctx context.Context) (BrainEventRow, error) {
	var row BrainEventRow
	err := db.pool.QueryRow(ctx,
		`SELECT id, account_id, kind, payload, enqueued_at
		 FROM brain_events ORDER BY id LIMIT 1`,
	).Scan(&row.ID, &row.AccountID, &row.Kind, &row.Payload, &row.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BrainEventRow{}, ErrNotFound
	}
	if err != nil {
		return BrainEventRow{}, fmt.Errorf("storage: oldest brain event: %w", err)
	}
	return row, nil
}

// DeleteBrainEvent removes a row. Deleting a missing row is not an error.
func (db *DB) DeleteBrainEvent(ctx context.Context, id int64) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM brain_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete brain event %d: %w", id, err)
	}
	return nil
}

// CountBrainEvents returns the queue depth.
func (db *DB) CountBrainEvents(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM brain_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count brain events: %w", err)
	}
	return n, nil
}
