package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/nodesup/internal/process"
	"github.com/loykin/nodesup/internal/tequilapi"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeHandle struct {
	pid          int
	terminateErr error
	terminated   atomic.Int32

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	exit process.Exit
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Exit() process.Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *fakeHandle) Terminate() error {
	h.terminated.Add(1)
	if h.terminateErr != nil {
		return h.terminateErr
	}
	h.finish(-1)
	return nil
}

// finish simulates the child exiting with code.
func (h *fakeHandle) finish(code int) {
	h.once.Do(func() {
		h.mu.Lock()
		h.exit = process.Exit{Code: code, At: time.Now()}
		h.mu.Unlock()
		close(h.done)
	})
}

type spawnCall struct {
	path string
	args []string
	opts process.Options
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	next  []*fakeHandle
	err   error
}

func (s *fakeSpawner) Spawn(path string, args []string, opts process.Options) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{path: path, args: args, opts: opts})
	if s.err != nil {
		return nil, s.err
	}
	h := s.next[0]
	s.next = s.next[1:]
	return h, nil
}

// fakeCP is a scripted control plane for one port.
type fakeCP struct {
	health  func(ctx context.Context) (tequilapi.Health, error)
	stop    func(ctx context.Context) error
	healthN atomic.Int32
	stopN   atomic.Int32
}

func (c *fakeCP) HealthCheck(ctx context.Context) (tequilapi.Health, error) {
	c.healthN.Add(1)
	if c.health == nil {
		return tequilapi.Health{}, tequilapi.ErrUnreachable
	}
	return c.health(ctx)
}

func (c *fakeCP) Stop(ctx context.Context) error {
	c.stopN.Add(1)
	if c.stop == nil {
		return tequilapi.ErrUnreachable
	}
	return c.stop(ctx)
}

func unreachable() *fakeCP { return &fakeCP{} }

func healthyWith(pid int) *fakeCP {
	return &fakeCP{health: func(context.Context) (tequilapi.Health, error) {
		return tequilapi.Health{Process: pid, Version: "1.0.0"}, nil
	}}
}

// fakeNet maps ports to control planes. Unknown ports are unreachable.
type fakeNet struct {
	mu       sync.Mutex
	ports    map[int]*fakeCP
	dialed   []int
	timeouts []time.Duration
}

func newFakeNet(ports map[int]*fakeCP) *fakeNet { return &fakeNet{ports: ports} }

func (n *fakeNet) dial(port int, timeout time.Duration) ControlPlane {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dialed = append(n.dialed, port)
	n.timeouts = append(n.timeouts, timeout)
	if cp, ok := n.ports[port]; ok {
		return cp
	}
	cp := unreachable()
	if n.ports == nil {
		n.ports = map[int]*fakeCP{}
	}
	n.ports[port] = cp
	return cp
}

func (n *fakeNet) cp(port int) *fakeCP {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ports[port]
}

type fakeTerminator struct {
	mu   sync.Mutex
	pids []int
	err  error
}

func (t *fakeTerminator) TerminatePID(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pids = append(t.pids, pid)
	return t.err
}

func (t *fakeTerminator) Lookup(pid int) (process.Info, error) {
	return process.Info{}, errors.New("not found")
}

func (t *fakeTerminator) terminated() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.pids...)
}
