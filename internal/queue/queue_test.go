package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/testutil"
)

type backend struct {
	name string
	open func(t *testing.T) Queue
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Queue { return NewMemory() }},
		{"sqlite", func(t *testing.T) Queue {
			q, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			return q
		}},
		{"wal", func(t *testing.T) Queue {
			q, err := OpenWAL(testutil.TestLogger(), WALConfig{Dir: t.TempDir(), SyncMode: SyncNone, MaxSegmentRecs: minSegmentRecs})
			require.NoError(t, err)
			return q
		}},
	}
}

func closeQueue(t *testing.T, q Queue) {
	t.Helper()
	if err := q.Close(); err != nil {
		t.Logf("queue close: %v", err)
	}
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			defer closeQueue(t, q)

			events := []event.Event{
				event.UpdateMessageScore{AccountID: 1, MessageID: 10, UserAction: 1},
				event.UpdateAddressScore{AccountID: 2, AddressID: 20},
				event.Unindex{AccountID: 1, ObjectKind: event.ObjectMessage, ObjectID: 11},
				event.Reindex{AccountID: 3, ObjectKind: event.ObjectContact, ObjectID: 5},
			}
			for _, ev := range events {
				rec, err := q.Enqueue(ctx, ev)
				require.NoError(t, err)
				assert.Equal(t, event.AccountID(ev), rec.AccountID)
			}

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(events), n)

			for _, want := range events {
				rec, ok, err := q.Next(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, rec.Event)
				require.NoError(t, q.Delete(ctx, rec))
			}

			_, ok, err := q.Next(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestQueue_NextDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			defer closeQueue(t, q)

			first, err := q.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: 1})
			require.NoError(t, err)

			a, ok, err := q.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			b, ok, err := q.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first.ID, a.ID)
			assert.Equal(t, a.ID, b.ID)
		})
	}
}

func TestQueue_DeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			defer closeQueue(t, q)

			rec, err := q.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: 1})
			require.NoError(t, err)
			require.NoError(t, q.Delete(ctx, rec))
			require.NoError(t, q.Delete(ctx, rec))
			require.NoError(t, q.Delete(ctx, Record{ID: 9999}))
		})
	}
}

func TestQueue_RejectsNonDurable(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			defer closeQueue(t, q)

			_, err := q.Enqueue(ctx, event.Periodic{})
			assert.ErrorIs(t, err, ErrNotDurable)
			_, err = q.Enqueue(ctx, event.Terminate{})
			assert.ErrorIs(t, err, ErrNotDurable)
		})
	}
}

func TestQueue_ClosedRejects(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			q := b.open(t)
			require.NoError(t, q.Close())

			_, err := q.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: 1})
			assert.ErrorIs(t, err, ErrClosed)
			_, _, err = q.Next(ctx)
			assert.ErrorIs(t, err, ErrClosed)
			_, err = q.Len(ctx)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, event.UpdateMessageScore{AccountID: 4, MessageID: 40})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer closeQueue(t, q2)
	rec, ok, err := q2.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.UpdateMessageScore{AccountID: 4, MessageID: 40}, rec.Event)
}

func TestSQLite_UndecodableHeadKeepsID(t *testing.T) {
	ctx := context.Background()
	q, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer closeQueue(t, q)

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO brain_events (account_id, kind, payload, enqueued_at) VALUES (1, ?, ?, 0)`,
		int(event.KindUnindex), []byte("{not json"))
	require.NoError(t, err)

	_, ok, err := q.Next(ctx)
	assert.False(t, ok)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, int64(1), decodeErr.Record.ID)
	assert.Equal(t, int64(1), decodeErr.Record.AccountID)
	assert.Nil(t, decodeErr.Record.Event)

	require.NoError(t, q.Delete(ctx, decodeErr.Record))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_UnknownKindSurfaces(t *testing.T) {
	ctx := context.Background()
	q, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer closeQueue(t, q)

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO brain_events (account_id, kind, payload, enqueued_at) VALUES (1, 99, '{}', 0)`)
	require.NoError(t, err)

	_, _, err = q.Next(ctx)
	var unknown *event.UnknownKindError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, event.Kind(99), unknown.Kind)
}

func TestWAL_RecoversPending(t *testing.T) {
	ctx := context.Background()
	cfg := WALConfig{Dir: t.TempDir(), SyncMode: SyncFull, MaxSegmentRecs: minSegmentRecs}

	w, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	var recs []Record
	for i := range 40 {
		rec, err := w.Enqueue(ctx, event.UpdateMessageScore{AccountID: 1, MessageID: int64(i)})
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	// Consume the first ten.
	for _, rec := range recs[:10] {
		require.NoError(t, w.Delete(ctx, rec))
	}
	require.NoError(t, w.Close())

	w2, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	defer closeQueue(t, w2)

	n, err := w2.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	head, ok, err := w2.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recs[10].ID, head.ID)
	assert.Equal(t, recs[10].Event, head.Event)

	// Ids keep increasing across restarts.
	next, err := w2.Enqueue(ctx, event.UpdateMessageScore{AccountID: 1, MessageID: 99})
	require.NoError(t, err)
	assert.Greater(t, next.ID, recs[len(recs)-1].ID)
}

func TestWAL_CompactsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	cfg := WALConfig{Dir: t.TempDir(), SyncMode: SyncNone, MaxSegmentRecs: minSegmentRecs}

	w, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	for i := range 100 {
		rec, err := w.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: int64(i)})
		require.NoError(t, err)
		if i%10 == 9 {
			continue
		}
		require.NoError(t, w.Delete(ctx, rec))
	}
	assert.LessOrEqual(t, w.SegmentCount(), defaultMaxSegments+1)

	for {
		rec, ok, err := w.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, w.Delete(ctx, rec))
	}
	assert.Equal(t, 1, w.SegmentCount())
	require.NoError(t, w.Close())

	w2, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	defer closeQueue(t, w2)
	n, err := w2.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWAL_TornTailIgnored(t *testing.T) {
	ctx := context.Background()
	cfg := WALConfig{Dir: t.TempDir(), SyncMode: SyncFull}

	w, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: 1})
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, event.UpdateAddressScore{AccountID: 1, AddressID: 2})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	paths, err := filepath.Glob(filepath.Join(cfg.Dir, "*.wal"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	last := paths[len(paths)-1]
	info, err := os.Stat(last)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(last, info.Size()-3))

	w2, err := OpenWAL(testutil.TestLogger(), cfg)
	require.NoError(t, err)
	defer closeQueue(t, w2)
	n, err := w2.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenWAL_Validation(t *testing.T) {
	_, err := OpenWAL(testutil.TestLogger(), WALConfig{})
	assert.Error(t, err)
	_, err = OpenWAL(testutil.TestLogger(), WALConfig{Dir: t.TempDir(), SyncMode: "sometimes"})
	assert.Error(t, err)
	_, err = OpenWAL(testutil.TestLogger(), WALConfig{Dir: t.TempDir(), MaxSegmentRecs: 2})
	assert.Error(t, err)
}
