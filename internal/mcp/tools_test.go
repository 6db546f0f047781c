package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/queue"
	"github.com/ashita-ai/omomi/internal/testutil"
)

type fakeEngine struct {
	mu       sync.Mutex
	enqueued []event.Event
	durable  []event.Event
	stats    brain.Stats
	statsErr error
	queueErr error
}

func (f *fakeEngine) Enqueue(ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, ev)
}

func (f *fakeEngine) EnqueueDurable(_ context.Context, ev event.Event) (queue.Record, error) {
	if !event.Durable(ev.Kind()) {
		return queue.Record{}, queue.ErrNotDurable
	}
	if f.queueErr != nil {
		return queue.Record{}, f.queueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durable = append(f.durable, ev)
	return queue.Record{ID: int64(len(f.durable)), Event: ev}, nil
}

func (f *fakeEngine) Stats(context.Context) (brain.Stats, error) {
	return f.stats, f.statsErr
}

type fakeSearcher struct {
	account int64
	query   string
	limit   int
	hits    []index.Hit
}

func (f *fakeSearcher) Search(_ context.Context, accountID int64, query string, limit int) ([]index.Hit, error) {
	f.account, f.query, f.limit = accountID, query, limit
	return f.hits, nil
}

func newTestMCP(engine *fakeEngine, mutate func(*Config)) *Server {
	cfg := Config{
		Engine:   engine,
		Location: time.UTC,
		Logger:   testutil.TestLogger(),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the text content from a tool result.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandleStats(t *testing.T) {
	engine := &fakeEngine{stats: brain.Stats{Running: true, Processed: 42, Dropped: 1}}
	srv := newTestMCP(engine, nil)

	result, err := srv.handleStats(context.Background(), callRequest("omomi_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got brain.Stats
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.True(t, got.Running)
	assert.Equal(t, int64(42), got.Processed)
	assert.Equal(t, int64(1), got.Dropped)

	engine.statsErr = errors.New("store closed")
	result, err = srv.handleStats(context.Background(), callRequest("omomi_stats", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "store closed")
}

func TestHandleEnqueue(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestMCP(engine, nil)
	ctx := context.Background()

	t.Run("in memory", func(t *testing.T) {
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{
			"kind":    "update_message_score",
			"payload": `{"account_id":1,"message_id":9,"user_action":1}`,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, parseToolText(t, result))
		assert.JSONEq(t, `{"kind":"update_message_score","durable":false}`, parseToolText(t, result))
		require.Len(t, engine.enqueued, 1)
		assert.Equal(t, event.UpdateMessageScore{AccountID: 1, MessageID: 9, UserAction: 1}, engine.enqueued[0])
	})

	t.Run("durable", func(t *testing.T) {
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{
			"kind":    "unindex",
			"payload": `{"account_id":2,"object_kind":"contact","object_id":4}`,
			"durable": true,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, parseToolText(t, result))
		assert.JSONEq(t, `{"kind":"unindex","durable":true,"record_id":1}`, parseToolText(t, result))
		require.Len(t, engine.durable, 1)
	})

	t.Run("periodic cannot be durable", func(t *testing.T) {
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{
			"kind": "periodic", "durable": true,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("internal kinds rejected", func(t *testing.T) {
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{"kind": "terminate"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Len(t, engine.enqueued, 1)
	})

	t.Run("missing kind", func(t *testing.T) {
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "kind is required", parseToolText(t, result))
	})

	t.Run("queue failure", func(t *testing.T) {
		engine.queueErr = errors.New("disk full")
		defer func() { engine.queueErr = nil }()
		result, err := srv.handleEnqueue(ctx, callRequest("omomi_enqueue", map[string]any{
			"kind":    "reindex",
			"payload": `{"account_id":2,"object_kind":"message","object_id":5}`,
			"durable": true,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, parseToolText(t, result), "disk full")
	})
}

func TestHandleSetAbatement(t *testing.T) {
	flag := &abatement.Flag{}
	srv := newTestMCP(&fakeEngine{}, func(c *Config) { c.Abatement = flag })

	result, err := srv.handleSetAbatement(context.Background(), callRequest("omomi_set_abatement", map[string]any{"abated": true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"abated":true}`, parseToolText(t, result))
	assert.True(t, flag.IsAbatementRequired())

	_, err = srv.handleSetAbatement(context.Background(), callRequest("omomi_set_abatement", map[string]any{"abated": false}))
	require.NoError(t, err)
	assert.False(t, flag.IsAbatementRequired())
}

func TestHandleDefer(t *testing.T) {
	srv := newTestMCP(&fakeEngine{}, nil)
	srv.now = func() time.Time { return time.Date(2024, 3, 6, 10, 20, 0, 0, time.UTC) } // Wednesday
	ctx := context.Background()

	result, err := srv.handleDefer(ctx, callRequest("omomi_defer", map[string]any{"type": "tomorrow"}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	var got deferResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.Equal(t, "tomorrow", got.Type)
	assert.True(t, got.Until.Equal(time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC)), "until = %s", got.Until)

	result, err = srv.handleDefer(ctx, callRequest("omomi_defer", map[string]any{"type": "custom", "at": "2024-04-01T09:30:00Z"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.True(t, got.Until.Equal(time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)))

	for _, args := range []map[string]any{
		{"type": "someday"},
		{"type": "custom", "at": "next-tuesday"},
	} {
		result, err := srv.handleDefer(ctx, callRequest("omomi_defer", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "args %v", args)
	}
}

func TestHandleSearch(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{{Kind: index.KindMessage, ID: 10, Score: 0.8}}}
	srv := newTestMCP(&fakeEngine{}, func(c *Config) { c.Searcher = searcher })
	ctx := context.Background()

	result, err := srv.handleSearch(ctx, callRequest("omomi_search", map[string]any{
		"account_id": float64(3), "query": "budget", "limit": float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.JSONEq(t, `[{"kind":"message","object_id":10,"score":0.8}]`, parseToolText(t, result))
	assert.Equal(t, int64(3), searcher.account)
	assert.Equal(t, "budget", searcher.query)
	assert.Equal(t, 5, searcher.limit)

	result, err = srv.handleSearch(ctx, callRequest("omomi_search", map[string]any{"query": "budget"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleSearch(ctx, callRequest("omomi_search", map[string]any{"account_id": float64(3)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
