package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/omomi/internal/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS brain_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  INTEGER NOT NULL DEFAULT 0,
	kind        INTEGER NOT NULL,
	payload     BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL
)`

// SQLite keeps the queue in its own database file, separate from the object
// store, so enqueues never wait on a store transaction.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// OpenSQLite opens (or creates) the queue database at path. ":memory:"
// gives a private throwaway queue.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("queue: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("queue: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (q *SQLite) Enqueue(ctx context.Context, ev event.Event) (Record, error) {
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
	rec := Record{AccountID: event.AccountID(ev), Event: ev, EnqueuedAt: q.now().UTC().Truncate(time.Millisecond)}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO brain_events (account_id, kind, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
		rec.AccountID, int(ev.Kind()), payload, rec.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: last insert id: %w", err)
	}
	return rec, nil
}

func (q *SQLite) Next(ctx context.Context) (Record, bool, error) {
	if q.closed.Load() {
		return Record{}, false, ErrClosed
	}
	var (
		id, accountID, millis int64
		kind                  int
		payload               []byte
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, account_id, kind, payload, enqueued_at FROM brain_events ORDER BY id LIMIT 1`,
	).Scan(&id, &accountID, &kind, &payload, &millis)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("queue: next: %w", err)
	}
	rec, err := decodeRow(id, accountID, kind, payload, time.UnixMilli(millis).UTC())
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (q *SQLite) Delete(ctx context.Context, rec Record) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM brain_events WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("queue: delete %d: %w", rec.ID, err)
	}
	return nil
}

func (q *SQLite) Len(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM brain_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

func (q *SQLite) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.db.Close()
}
