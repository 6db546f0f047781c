package brain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/omomi/internal/event"
)

func drain(t *testing.T, q *inbox) []event.Event {
	t.Helper()
	var out []event.Event
	for q.len() > 0 {
		ev, err := q.pop(context.Background())
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestInbox_PushIfAbsent(t *testing.T) {
	q := newInbox()
	ev := event.UpdateMessageScore{AccountID: 1, MessageID: 7}
	assert.True(t, q.pushIfAbsent(ev))
	assert.False(t, q.pushIfAbsent(ev))
	assert.True(t, q.pushIfAbsent(event.UpdateMessageScore{AccountID: 1, MessageID: 8}))
	assert.Equal(t, 2, q.len())
}

func TestInbox_PushIfNotTail(t *testing.T) {
	q := newInbox()
	assert.True(t, q.pushIfNotTail(event.Periodic{}))
	assert.False(t, q.pushIfNotTail(event.Periodic{}))
	q.push(event.InitialRIC{AccountID: 1})
	assert.True(t, q.pushIfNotTail(event.Periodic{}))

	kinds := []event.Kind{}
	for _, ev := range drain(t, q) {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []event.Kind{event.KindPeriodic, event.KindInitialRIC, event.KindPeriodic}, kinds)
}

func TestInbox_PushFrontAndDropLeading(t *testing.T) {
	q := newInbox()
	q.push(event.Periodic{})
	q.pushFront(event.Terminate{})
	q.pushFront(event.Terminate{})

	assert.Equal(t, 2, q.dropLeading(event.KindTerminate))
	assert.Equal(t, 0, q.dropLeading(event.KindTerminate))
	got := drain(t, q)
	require.Len(t, got, 1)
	assert.Equal(t, event.KindPeriodic, got[0].Kind())
}

func TestInbox_PopBlocksUntilPush(t *testing.T) {
	q := newInbox()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.push(event.Test{Token: "x"})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.Test{Token: "x"}, ev)
}

func TestInbox_PopHonorsContext(t *testing.T) {
	q := newInbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
