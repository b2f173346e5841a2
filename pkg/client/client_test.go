package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/", Timeout: time.Second})
}

func TestStartNode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/node/start", r.URL.Path)
		assert.Equal(t, "4449", r.URL.Query().Get("port"))
		_, _ = w.Write([]byte(`{"ok":true,"port":4449,"pid":77}`))
	})
	resp, err := c.StartNode(context.Background(), 4449)
	require.NoError(t, err)
	assert.Equal(t, StartResponse{OK: true, Port: 4449, PID: 77}, resp)
}

func TestStartNode_DefaultPortOmitsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"ok":true,"port":44050}`))
	})
	resp, err := c.StartNode(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 44050, resp.Port)
}

func TestStartNode_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"spawn node: no such file"}`))
	})
	_, err := c.StartNode(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
	assert.Contains(t, err.Error(), "no such file")
}

func TestStopNode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/node/stop", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"method":"forced","graceful_error":"refused"}`))
	})
	resp, err := c.StopNode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forced", resp.Method)
	assert.Equal(t, "refused", resp.GracefulError)
}

func TestKillGhosts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/node/kill-ghosts", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"ghosts":[{"port":4050,"outcome":"unreachable","method":"none"},{"port":44050,"pid":9321,"outcome":"healthy-with-process","method":"forced"}]}`))
	})
	resp, err := c.KillGhosts(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Ghosts, 2)
	assert.Equal(t, 9321, resp.Ghosts[1].PID)
	assert.False(t, resp.Skipped)
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"state":"absent","port":44050,"last_exit":{"code":2,"at":"2024-01-01T00:00:00Z"}}`))
	})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "absent", st.State)
	require.NotNil(t, st.LastExit)
	assert.Equal(t, 2, st.LastExit.Code)
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/healthz", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	assert.True(t, c.IsReachable(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	down := New(Config{BaseURL: "http://" + addr, Timeout: time.Second})
	assert.False(t, down.IsReachable(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	c := New(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}
