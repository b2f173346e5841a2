package node

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"

	"github.com/loykin/nodesup/internal/history"
	"github.com/loykin/nodesup/internal/metrics"
	"github.com/loykin/nodesup/internal/process"
)

// ProbeOutcome classifies what answered on a ghost port.
type ProbeOutcome string

const (
	OutcomeUnreachable        ProbeOutcome = "unreachable"
	OutcomeHealthyNoProcess   ProbeOutcome = "healthy-no-process"
	OutcomeHealthyWithProcess ProbeOutcome = "healthy-with-process"
)

// GhostCandidate is the result of reclaiming one port.
type GhostCandidate struct {
	Port    int          `json:"port"`
	PID     int          `json:"pid,omitempty"`
	Outcome ProbeOutcome `json:"outcome"`
	Method  Method       `json:"method"`
	StopErr error        `json:"-"`
	KillErr error        `json:"-"`
}

// ReclaimerConfig configures a Reclaimer. Zero fields take defaults.
type ReclaimerConfig struct {
	ProbeTimeout time.Duration
	StopTimeout  time.Duration
	Dial         Dialer
	Terminator   process.Terminator
	History      []history.Sink
	Logger       *slog.Logger
	RunID        string
}

// Reclaimer finds nodes left running by an earlier session and shuts them
// down. It keeps no state between calls.
type Reclaimer struct {
	cfg ReclaimerConfig
	rec *recorder
	log *slog.Logger
}

// NewReclaimer returns a Reclaimer that probes with tequilapi and terminates
// through the OS unless cfg overrides them.
func NewReclaimer(cfg ReclaimerConfig) *Reclaimer {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = TequilapiDialer(cfg.Logger)
	}
	if cfg.Terminator == nil {
		cfg.Terminator = process.OS{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log := cfg.Logger.With("component", "reclaimer")
	return &Reclaimer{
		cfg: cfg,
		log: log,
		rec: &recorder{runID: cfg.RunID, sinks: cfg.History, logger: log},
	}
}

// Reclaim probes every port concurrently and returns once each port's
// protocol has finished, in the order the ports were given. Duplicate ports
// are probed once. Failures are logged and reported in the candidates, never
// returned. Cancelling ctx does not abort a probe or stop in flight.
func (r *Reclaimer) Reclaim(ctx context.Context, ports []int) []GhostCandidate {
	ctx = context.WithoutCancel(ctx)
	uniq := dedupe(ports)
	if len(uniq) == 0 {
		return nil
	}
	r.log.Info("Scanning for ghost nodes", "ports", uniq)
	return iter.Map(uniq, func(port *int) GhostCandidate {
		return r.reclaimPort(ctx, *port)
	})
}

func (r *Reclaimer) reclaimPort(ctx context.Context, port int) GhostCandidate {
	c := GhostCandidate{Port: port, Method: MethodNone}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	health, err := r.cfg.Dial(port, r.cfg.ProbeTimeout).HealthCheck(pctx)
	cancel()
	if err != nil {
		c.Outcome = OutcomeUnreachable
		metrics.IncGhostProbe(string(c.Outcome))
		r.log.Info("No ghost found", "port", port, "error", err)
		return c
	}
	if health.Process <= 0 {
		c.Outcome = OutcomeHealthyNoProcess
		metrics.IncGhostProbe(string(c.Outcome))
		r.log.Info("Control plane answered without a process id; leaving it alone", "port", port, "version", health.Version)
		return c
	}

	c.Outcome = OutcomeHealthyWithProcess
	c.PID = health.Process
	metrics.IncGhostProbe(string(c.Outcome))
	r.log.Warn("Ghost node found", "port", port, "pid", c.PID, "version", health.Version, "uptime", health.Uptime)
	r.rec.record(history.Event{Type: history.EventGhostFound, Port: port, PID: c.PID})

	sctx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	c.StopErr = r.cfg.Dial(port, r.cfg.StopTimeout).Stop(sctx)
	cancel()
	if c.StopErr == nil {
		c.Method = MethodGraceful
		r.log.Info("Ghost node stopped via control plane", "port", port, "pid", c.PID)
		return r.reclaimed(c)
	}
	r.log.Warn("Graceful ghost stop failed, terminating by pid", "port", port, "pid", c.PID, "error", c.StopErr)

	if process.ValidPID(c.PID) {
		if info, err := r.cfg.Terminator.Lookup(c.PID); err == nil {
			r.log.Info("Ghost process", "pid", info.PID, "name", info.Name, "cmdline", info.Cmdline, "started_at", info.StartedAt)
		}
		c.KillErr = r.cfg.Terminator.TerminatePID(c.PID)
	} else {
		c.KillErr = fmt.Errorf("%w: %d", process.ErrInvalidPID, c.PID)
	}
	if c.KillErr == nil {
		c.Method = MethodForced
		r.log.Info("Ghost node terminated", "port", port, "pid", c.PID)
		return r.reclaimed(c)
	}

	c.Method = MethodFailed
	r.log.Error("Failed to terminate ghost node", "port", port, "pid", c.PID, "error", c.KillErr)
	metrics.IncGhostReclaim(string(c.Method))
	r.rec.record(history.Event{Type: history.EventGhostFailed, Port: port, PID: c.PID, Method: string(c.Method), Error: c.KillErr.Error()})
	return c
}

func (r *Reclaimer) reclaimed(c GhostCandidate) GhostCandidate {
	metrics.IncGhostReclaim(string(c.Method))
	r.rec.record(history.Event{Type: history.EventGhostReclaimed, Port: c.Port, PID: c.PID, Method: string(c.Method), Error: errString(c.StopErr)})
	return c
}

func dedupe(ports []int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
