package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/nodesup/internal/node"
	"github.com/loykin/nodesup/internal/process"
)

type fakeNode struct {
	mu       sync.Mutex
	started  []int
	stops    int
	startErr error
	stopRes  node.StopResult
	status   node.Status
	// inFlight detects overlapping lifecycle calls
	inFlight int
	overlap  bool
	delay    time.Duration
}

func (n *fakeNode) enter() {
	n.mu.Lock()
	n.inFlight++
	if n.inFlight > 1 {
		n.overlap = true
	}
	n.mu.Unlock()
	time.Sleep(n.delay)
}

func (n *fakeNode) leave() {
	n.mu.Lock()
	n.inFlight--
	n.mu.Unlock()
}

func (n *fakeNode) Start(_ context.Context, port int) error {
	n.enter()
	defer n.leave()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.startErr != nil {
		return n.startErr
	}
	n.started = append(n.started, port)
	n.status = node.Status{State: node.StateRunning, Port: port, PID: 321}
	return nil
}

func (n *fakeNode) Stop(context.Context) node.StopResult {
	n.enter()
	defer n.leave()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops++
	return n.stopRes
}

func (n *fakeNode) Status() node.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

type fakeGhosts struct {
	mu    sync.Mutex
	calls [][]int
	out   []node.GhostCandidate
}

func (g *fakeGhosts) Reclaim(_ context.Context, ports []int) []node.GhostCandidate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ports)
	return g.out
}

func setupRouter(t *testing.T, n *fakeNode, g *fakeGhosts, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(n, g, opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStart_DefaultPort(t *testing.T) {
	n := &fakeNode{}
	h := setupRouter(t, n, &fakeGhosts{}, Options{BasePath: "/api"})

	rec := doReq(t, h, http.MethodPost, "/api/node/start")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[startResp](t, rec)
	assert.True(t, resp.OK)
	assert.Equal(t, node.DefaultPort, resp.Port)
	assert.Equal(t, 321, resp.PID)
	assert.Equal(t, []int{node.DefaultPort}, n.started)
}

func TestStart_ExplicitPort(t *testing.T) {
	n := &fakeNode{}
	h := setupRouter(t, n, &fakeGhosts{}, Options{})

	rec := doReq(t, h, http.MethodPost, "/node/start?port=4449")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{4449}, n.started)
}

func TestStart_BadPort(t *testing.T) {
	n := &fakeNode{}
	h := setupRouter(t, n, &fakeGhosts{}, Options{})

	rec := doReq(t, h, http.MethodPost, "/node/start?port=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, n.started)
}

func TestStart_SpawnFailure(t *testing.T) {
	n := &fakeNode{startErr: fmt.Errorf("%w: no such file", node.ErrSpawn)}
	h := setupRouter(t, n, &fakeGhosts{}, Options{})

	rec := doReq(t, h, http.MethodPost, "/node/start")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "no such file")
}

func TestStop_ReportsTierErrors(t *testing.T) {
	n := &fakeNode{stopRes: node.StopResult{
		Method:      node.MethodForced,
		GracefulErr: errors.New("connection refused"),
	}}
	h := setupRouter(t, n, &fakeGhosts{}, Options{})

	rec := doReq(t, h, http.MethodPost, "/node/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[stopResp](t, rec)
	assert.True(t, resp.OK)
	assert.Equal(t, "forced", resp.Method)
	assert.Equal(t, "connection refused", resp.GracefulError)
	assert.Empty(t, resp.ForceError)
	assert.Equal(t, 1, n.stops)
}

func TestKillGhosts(t *testing.T) {
	g := &fakeGhosts{out: []node.GhostCandidate{
		{Port: 4050, Outcome: node.OutcomeUnreachable, Method: node.MethodNone},
		{Port: 44050, PID: 9321, Outcome: node.OutcomeHealthyWithProcess, Method: node.MethodForced, StopErr: errors.New("timeout")},
	}}
	h := setupRouter(t, &fakeNode{}, g, Options{})

	rec := doReq(t, h, http.MethodPost, "/node/kill-ghosts")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[killGhostsResp](t, rec)
	assert.True(t, resp.OK)
	assert.False(t, resp.Skipped)
	require.Len(t, resp.Ghosts, 2)
	assert.Equal(t, 9321, resp.Ghosts[1].PID)
	assert.Equal(t, "healthy-with-process", resp.Ghosts[1].Outcome)
	assert.Equal(t, "timeout", resp.Ghosts[1].StopError)
	assert.Equal(t, [][]int{{4050, 44050}}, g.calls)
}

func TestKillGhosts_DevModeSkips(t *testing.T) {
	g := &fakeGhosts{}
	h := setupRouter(t, &fakeNode{}, g, Options{Dev: true})

	rec := doReq(t, h, http.MethodPost, "/node/kill-ghosts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"skipped":true}`, rec.Body.String())
	assert.Empty(t, g.calls)
}

func TestStatus(t *testing.T) {
	n := &fakeNode{status: node.Status{
		State:    node.StateAbsent,
		Port:     44050,
		LastExit: &process.Exit{Code: 1},
	}}
	h := setupRouter(t, n, &fakeGhosts{}, Options{BasePath: "api/"})

	rec := doReq(t, h, http.MethodGet, "/api/node/status")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[node.Status](t, rec)
	assert.Equal(t, node.StateAbsent, st.State)
	assert.Equal(t, 44050, st.Port)
	require.NotNil(t, st.LastExit)
	assert.Equal(t, 1, st.LastExit.Code)
}

func TestStatus_AbsentOmitsStartedAt(t *testing.T) {
	h := setupRouter(t, &fakeNode{status: node.Status{State: node.StateAbsent}}, &fakeGhosts{}, Options{BasePath: "/api"})

	rec := doReq(t, h, http.MethodGet, "/api/node/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"absent"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, &fakeNode{}, &fakeGhosts{}, Options{BasePath: "/api"})
	rec := doReq(t, h, http.MethodGet, "/api/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestLifecycleCallsAreSerialized(t *testing.T) {
	n := &fakeNode{delay: 20 * time.Millisecond}
	h := setupRouter(t, n, &fakeGhosts{}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); doReq(t, h, http.MethodPost, "/node/start") }()
		go func() { defer wg.Done(); doReq(t, h, http.MethodPost, "/node/stop") }()
	}
	wg.Wait()
	assert.False(t, n.overlap)
	assert.Len(t, n.started, 4)
	assert.Equal(t, 4, n.stops)
}

func TestNewServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRouter(&fakeNode{}, &fakeGhosts{}, Options{}))
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Positive(t, srv.ReadHeaderTimeout)
}
