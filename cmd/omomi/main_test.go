package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/omomi/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(testutil.TestLogger())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "omomi dev (commit: unknown)\n", out)
}

func TestDeferCmd(t *testing.T) {
	out, err := execute(t, "defer", "tomorrow", "--from", "2024-03-06T10:20:00Z", "--tz", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-07T08:00:00Z\n", out)

	out, err = execute(t, "defer", "none", "--tz", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "not deferred\n", out)

	_, err = execute(t, "defer", "custom", "--tz", "UTC")
	assert.ErrorContains(t, err, "needs --at")

	_, err = execute(t, "defer", "someday")
	assert.Error(t, err)
}

func TestEnqueueCmd(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"kind":"unindex","durable":true,"record_id":3}}`))
	}))
	defer ts.Close()

	out, err := execute(t, "enqueue", "unindex", "--server", ts.URL, "--durable",
		"--payload", `{"account_id":1,"object_kind":"message","object_id":42}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"record_id":3`)
	assert.Contains(t, got, `"kind":"unindex"`)
	assert.Contains(t, got, `"object_id":42`)
}

func TestEnqueueCmd_RejectsLocally(t *testing.T) {
	_, err := execute(t, "enqueue", "ui_hint", "--server", "http://127.0.0.1:1", "--durable")
	assert.ErrorContains(t, err, "cannot be queued durably")

	_, err = execute(t, "enqueue", "no_such_kind", "--server", "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestEnqueueCmd_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"INVALID_INPUT","message":"kind terminate is internal"}}`))
	}))
	defer ts.Close()

	_, err := execute(t, "enqueue", "periodic", "--server", ts.URL)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "kind terminate is internal"))
}

func TestAccountCmd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OMOMI_DATA_DIR", dir)
	t.Setenv("OMOMI_STORE_PATH", filepath.Join(dir, "omomi.db"))

	out, err := execute(t, "account", "add", "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "account 1: me@example.com\n", out)

	out, err = execute(t, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "me@example.com")
}
