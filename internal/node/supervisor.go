package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/nodesup/internal/history"
	"github.com/loykin/nodesup/internal/metrics"
	"github.com/loykin/nodesup/internal/process"
)

var (
	// ErrSpawn wraps every failure to launch the node binary.
	ErrSpawn = errors.New("spawn node")
	// ErrInvalidPort is returned by Start for ports outside 1..65535.
	ErrInvalidPort = errors.New("invalid port")
)

// State is the externally visible lifecycle state of the supervised node.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Method tells which shutdown tier ended a node.
type Method string

const (
	MethodNone     Method = "none"
	MethodGraceful Method = "graceful"
	MethodForced   Method = "forced"
	MethodFailed   Method = "failed"
)

// StopResult reports what Stop attempted. Stop never fails; the tier errors
// are kept for inspection only.
type StopResult struct {
	Method      Method `json:"method"`
	GracefulErr error  `json:"-"`
	ForceErr    error  `json:"-"`
}

// Status is a snapshot of the supervised node.
type Status struct {
	State     State         `json:"state"`
	Port      int           `json:"port,omitempty"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	LastExit  *process.Exit `json:"last_exit,omitempty"`
}

// SupervisorConfig configures a Supervisor. Zero fields take defaults.
type SupervisorConfig struct {
	// Binary is the path of the node executable.
	Binary string
	// WorkDir is the child's working directory; empty inherits ours.
	WorkDir     string
	StopTimeout time.Duration
	Spawner     process.Spawner
	Dial        Dialer
	History     []history.Sink
	Logger      *slog.Logger
	// RunID tags history events of this supervisor; generated when empty.
	RunID string
}

// Supervisor owns the lifecycle of one node process.
//
// Start and Stop are expected to be called sequentially by the caller. The
// mutex only protects the record against the exit observer goroutine.
type Supervisor struct {
	cfg SupervisorConfig
	rec *recorder
	log *slog.Logger

	mu        sync.Mutex
	starting  bool
	port      int
	handle    process.Handle
	startedAt time.Time
	lastExit  *process.Exit
}

// NewSupervisor returns a Supervisor with nothing recorded.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Spawner == nil {
		cfg.Spawner = process.Exec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = TequilapiDialer(cfg.Logger)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log := cfg.Logger.With("component", "supervisor")
	return &Supervisor{
		cfg: cfg,
		log: log,
		rec: &recorder{runID: cfg.RunID, sinks: cfg.History, logger: log},
	}
}

// RunID identifies this supervisor in history events.
func (s *Supervisor) RunID() string { return s.cfg.RunID }

// Start launches the node on port and returns as soon as the OS accepted the
// spawn. It does not wait for the control plane to come up.
//
// Calling Start while a node is tracked replaces the record without stopping
// the previous child.
func (s *Supervisor) Start(_ context.Context, port int) error {
	if !validPort(port) {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if s.cfg.Binary == "" {
		metrics.IncStartFailure()
		return fmt.Errorf("%w: binary path not configured", ErrSpawn)
	}

	s.mu.Lock()
	if s.handle != nil {
		s.log.Warn("Start called while a node is tracked; previous node is no longer supervised",
			"pid", s.handle.PID(), "port", s.port)
	}
	s.starting = true
	s.mu.Unlock()

	args := LaunchArgs(port)
	s.log.Info("Starting node", "binary", s.cfg.Binary, "port", port, "args", args)
	h, err := s.cfg.Spawner.Spawn(s.cfg.Binary, args, process.Options{Detach: true, WorkDir: s.cfg.WorkDir})
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		metrics.IncStartFailure()
		s.log.Error("Failed to start node", "binary", s.cfg.Binary, "port", port, "error", err)
		s.rec.record(history.Event{Type: history.EventNodeStart, Port: port, Error: err.Error()})
		return fmt.Errorf("%w: %s: %w", ErrSpawn, s.cfg.Binary, err)
	}

	now := time.Now()
	s.mu.Lock()
	s.starting = false
	s.port = port
	s.handle = h
	s.startedAt = now
	s.mu.Unlock()

	metrics.IncStart()
	metrics.SetRunning(true)
	s.log.Info("Node started", "pid", h.PID(), "port", port)
	s.rec.record(history.Event{Type: history.EventNodeStart, OccurredAt: now.UTC(), Port: port, PID: h.PID()})

	go s.observe(h, port)
	return nil
}

// observe waits for h to exit, logs the exit code and forgets the handle if
// it is still the tracked one. The port stays recorded.
func (s *Supervisor) observe(h process.Handle, port int) {
	<-h.Done()
	ex := h.Exit()

	s.mu.Lock()
	tracked := s.handle == h
	if tracked {
		s.handle = nil
	}
	if tracked || s.handle == nil {
		s.lastExit = &ex
	}
	s.mu.Unlock()

	if tracked {
		metrics.SetRunning(false)
	}
	metrics.IncExit()
	s.log.Info("Node exited", "pid", h.PID(), "port", port, "code", ex.Code, "tracked", tracked)
	code := ex.Code
	s.rec.record(history.Event{Type: history.EventNodeExit, OccurredAt: ex.At.UTC(), Port: port, PID: h.PID(), ExitCode: &code, Error: ex.Err})
}

// Stop shuts the node down: first through the control plane of the recorded
// port, then by terminating the recorded handle. With nothing recorded it is
// a no-op. Stop never fails; tier errors are logged and returned in the
// result. Cancelling ctx does not abort a tier in flight.
func (s *Supervisor) Stop(ctx context.Context) StopResult {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	port, h := s.port, s.handle
	s.mu.Unlock()

	if port == 0 && h == nil {
		s.log.Debug("Stop: no node recorded")
		return StopResult{Method: MethodNone}
	}

	var res StopResult
	if port != 0 {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
		err := s.cfg.Dial(port, s.cfg.StopTimeout).Stop(cctx)
		cancel()
		if err == nil {
			s.log.Info("Node stopped via control plane", "port", port)
			return s.stopped(port, h, MethodGraceful, res)
		}
		res.GracefulErr = err
		s.log.Warn("Graceful stop failed", "port", port, "error", err)
	}

	if h != nil {
		err := h.Terminate()
		if err == nil {
			s.log.Info("Node terminated", "pid", h.PID(), "port", port)
			return s.stopped(port, h, MethodForced, res)
		}
		res.ForceErr = err
		s.log.Error("Failed to terminate node", "pid", h.PID(), "error", err)
	}

	res.Method = MethodFailed
	metrics.IncStop(string(MethodFailed))
	s.rec.record(history.Event{
		Type:   history.EventNodeStop,
		Port:   port,
		PID:    pidOf(h),
		Method: string(MethodFailed),
		Error:  errors.Join(res.GracefulErr, res.ForceErr).Error(),
	})
	return res
}

func (s *Supervisor) stopped(port int, h process.Handle, m Method, res StopResult) StopResult {
	s.mu.Lock()
	if s.handle == h {
		s.port = 0
		s.handle = nil
	}
	s.mu.Unlock()
	if h != nil {
		metrics.SetRunning(false)
	}
	metrics.IncStop(string(m))
	s.rec.record(history.Event{Type: history.EventNodeStop, Port: port, PID: pidOf(h), Method: string(m), Error: errString(res.GracefulErr)})
	res.Method = m
	return res
}

// Status returns a snapshot of the supervised node.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: StateAbsent, Port: s.port}
	if s.lastExit != nil {
		ex := *s.lastExit
		st.LastExit = &ex
	}
	switch {
	case s.starting:
		st.State = StateStarting
	case s.handle != nil:
		st.State = StateRunning
		st.PID = s.handle.PID()
		st.StartedAt = s.startedAt
	}
	return st
}

func pidOf(h process.Handle) int {
	if h == nil {
		return 0
	}
	return h.PID()
}
