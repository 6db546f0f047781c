package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/notify"
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

func newTestServer(t *testing.T, engine *fakeEngine, mutate func(*ServerConfig)) *Server {
	t.Helper()
	cfg := ServerConfig{
		Engine:    engine,
		Logger:    testutil.TestLogger(),
		Abatement: &abatement.Flag{},
		Broker:    NewBroker(testutil.TestLogger()),
		Location:  time.UTC,
		Version:   "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T            `json:"data"`
		Meta ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Meta.RequestID)
	return env.Data
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var env APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestHealth(t *testing.T) {
	engine := &fakeEngine{stats: brain.Stats{Running: true, DurableDepth: 3}}
	srv := newTestServer(t, engine, func(c *ServerConfig) {
		c.Checks = map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		}
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	got := decodeData[HealthResponse](t, rec)
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, "test", got.Version)
	assert.Equal(t, 3, got.DurableDepth)
	assert.Equal(t, map[string]string{"store": "connected"}, got.Dependencies)
}

func TestHealth_FailingDependency(t *testing.T) {
	engine := &fakeEngine{stats: brain.Stats{Running: true}}
	srv := newTestServer(t, engine, func(c *ServerConfig) {
		c.Checks = map[string]HealthCheck{
			"queue": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	got := decodeData[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", got.Status)
	assert.Equal(t, "disconnected", got.Dependencies["queue"])
}

func TestHealth_DegradedWhenStopped(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decodeData[HealthResponse](t, rec).Status)
}

func TestStats(t *testing.T) {
	engine := &fakeEngine{stats: brain.Stats{Running: true, Processed: 42, Failed: 1}}
	srv := newTestServer(t, engine, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[brain.Stats](t, rec)
	assert.Equal(t, int64(42), got.Processed)
	assert.Equal(t, int64(1), got.Failed)

	engine.statsErr = errors.New("store closed")
	rec = do(t, srv.Handler(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, decodeErr(t, rec).Code)
}

func TestEnqueue_Transient(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/events",
		`{"kind":"message_flags","payload":{"account_id":1,"message_id":7}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := decodeData[EnqueueResponse](t, rec)
	assert.Equal(t, "message_flags", got.Kind)
	assert.False(t, got.Durable)

	require.Len(t, engine.enqueued, 1)
	assert.Equal(t, event.KindMessageFlags, engine.enqueued[0].Kind())
	assert.Equal(t, int64(1), event.AccountID(engine.enqueued[0]))
}

func TestEnqueue_Durable(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/events",
		`{"kind":"unindex","durable":true,"payload":{"account_id":1,"object_kind":"message","object_id":9}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := decodeData[EnqueueResponse](t, rec)
	assert.True(t, got.Durable)
	assert.Equal(t, int64(1), got.RecordID)

	require.Len(t, engine.durable, 1)
	assert.Equal(t, event.Unindex{AccountID: 1, ObjectKind: event.ObjectMessage, ObjectID: 9}, engine.durable[0])
	assert.Empty(t, engine.enqueued)
}

func TestEnqueue_DurableRejectsTransientKind(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/events",
		`{"kind":"ui_hint","durable":true,"payload":{"account_id":1}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidInput, decodeErr(t, rec).Code)
	assert.Empty(t, engine.durable)
}

func TestEnqueue_DurableStoreFailure(t *testing.T) {
	engine := &fakeEngine{queueErr: errors.New("disk full")}
	srv := newTestServer(t, engine, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/events",
		`{"kind":"reindex","durable":true,"payload":{"account_id":1,"object_kind":"contact","object_id":2}}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to enqueue event", decodeErr(t, rec).Message)
}

func TestEnqueue_BadRequests(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	cases := map[string]string{
		"unknown kind":   `{"kind":"launch_missiles"}`,
		"internal kind":  `{"kind":"terminate"}`,
		"bad payload":    `{"kind":"message_flags","payload":{"message_id":"seven"}}`,
		"unknown field":  `{"kind":"periodic","priority":1}`,
		"malformed json": `{"kind":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPost, "/api/events", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrCodeInvalidInput, decodeErr(t, rec).Code)
		})
	}
}

func TestEnqueue_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, func(c *ServerConfig) {
		c.MaxRequestBodyBytes = 16
	})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/events",
		`{"kind":"message_flags","payload":{"account_id":1,"message_id":7}}`)
	// The decoder may surface the limit as a plain read error.
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
}

func TestAbatement(t *testing.T) {
	flag := &abatement.Flag{}
	srv := newTestServer(t, &fakeEngine{}, func(c *ServerConfig) { c.Abatement = flag })

	rec := do(t, srv.Handler(), http.MethodPut, "/api/abatement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeData[AbatementResponse](t, rec).Abated)
	assert.True(t, flag.IsAbatementRequired())

	rec = do(t, srv.Handler(), http.MethodDelete, "/api/abatement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, flag.IsAbatementRequired())
}

func TestAbatement_NotConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, func(c *ServerConfig) { c.Abatement = nil })
	rec := do(t, srv.Handler(), http.MethodPut, "/api/abatement", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrCodeUnavailable, decodeErr(t, rec).Code)
}

func TestDeferral(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	srv.handlers.now = func() time.Time { return time.Date(2024, 3, 6, 10, 20, 0, 0, time.UTC) } // Wednesday

	rec := do(t, srv.Handler(), http.MethodGet, "/api/deferral/tomorrow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[DeferralResponse](t, rec)
	assert.Equal(t, "tomorrow", got.Type)
	assert.True(t, got.Until.Equal(time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC)), "until = %s", got.Until)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/deferral/custom?at=2024-04-01T09:30:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[DeferralResponse](t, rec)
	assert.True(t, got.Until.Equal(time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)))

	rec = do(t, srv.Handler(), http.MethodGet, "/api/deferral/someday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/deferral/custom?at=next-tuesday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPMount(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(t, srv.Handler(), http.MethodPost, "/mcp", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv = newTestServer(t, &fakeEngine{}, func(c *ServerConfig) {
		c.MCPServer = mcpserver.NewMCPServer("omomi", "test", mcpserver.WithToolCapabilities(true))
	})
	rec = do(t, srv.Handler(), http.MethodPost, "/mcp",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"omomi"`)
}

func TestNotificationsStream(t *testing.T) {
	broker := NewBroker(testutil.TestLogger())
	srv := newTestServer(t, &fakeEngine{}, func(c *ServerConfig) { c.Broker = broker })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/notifications", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	broker.Notify(notify.AddressScoresUpdated)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: notification\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: address_scores_updated\n", line)
}

func TestNotifications_NotConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, func(c *ServerConfig) { c.Broker = nil })
	rec := do(t, srv.Handler(), http.MethodGet, "/api/notifications", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/decisions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
