package nodesup

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/nodesup/internal/config"
	"github.com/loykin/nodesup/internal/history"
	"github.com/loykin/nodesup/internal/history/factory"
	"github.com/loykin/nodesup/internal/metrics"
	"github.com/loykin/nodesup/internal/node"
	"github.com/loykin/nodesup/internal/process"
	iapi "github.com/loykin/nodesup/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Supervisor = node.Supervisor

type SupervisorConfig = node.SupervisorConfig

type Reclaimer = node.Reclaimer

type ReclaimerConfig = node.ReclaimerConfig

type Status = node.Status

type StopResult = node.StopResult

type GhostCandidate = node.GhostCandidate

type HistorySink = history.Sink

type HistoryEvent = history.Event

var (
	ErrSpawn       = node.ErrSpawn
	ErrInvalidPort = node.ErrInvalidPort
)

const DefaultPort = node.DefaultPort

func DefaultGhostPorts() []int { return node.GhostPorts() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func NewSupervisor(c SupervisorConfig) *Supervisor { return node.NewSupervisor(c) }

func NewReclaimer(c ReclaimerConfig) *Reclaimer { return node.NewReclaimer(c) }

// NewHistorySink creates a sink from a DSN (sqlite, postgres, clickhouse, opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Runtime wires a Supervisor and a Reclaimer that share one run id and the
// configured history sinks.
type Runtime struct {
	Supervisor *Supervisor
	Reclaimer  *Reclaimer
	RunID      string

	sinks []HistorySink
}

// NewFromConfig builds a Runtime from c. The node binary is resolved with
// Config.ResolveBinary; extra sinks are added to the configured one.
func NewFromConfig(c *Config, logger *slog.Logger, extra ...HistorySink) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bin, err := c.ResolveBinary()
	if err != nil {
		return nil, err
	}
	sinks := append([]HistorySink(nil), extra...)
	if c.History.Enabled {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	rt := &Runtime{RunID: uuid.NewString(), sinks: sinks}
	dial := node.TequilapiDialer(logger)
	rt.Supervisor = node.NewSupervisor(node.SupervisorConfig{
		Binary:      bin,
		WorkDir:     c.Node.WorkDir,
		StopTimeout: c.Node.StopTimeout,
		Spawner:     process.Exec{},
		Dial:        dial,
		History:     sinks,
		Logger:      logger,
		RunID:       rt.RunID,
	})
	rt.Reclaimer = node.NewReclaimer(node.ReclaimerConfig{
		ProbeTimeout: c.Node.ProbeTimeout,
		StopTimeout:  c.Node.StopTimeout,
		Dial:         dial,
		Terminator:   process.OS{},
		History:      sinks,
		Logger:       logger,
		RunID:        rt.RunID,
	})
	return rt, nil
}

// Close releases history sinks that hold connections.
func (rt *Runtime) Close() error {
	var errs []error
	for _, s := range rt.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Handler returns the lifecycle API for embedding in another server.
func (rt *Runtime) Handler(c *Config, logger *slog.Logger) http.Handler {
	return rt.router(c, logger).Handler()
}

// NewHTTPServer returns an unstarted server exposing the lifecycle API on
// c.Server.Listen.
func (rt *Runtime) NewHTTPServer(c *Config, logger *slog.Logger) *http.Server {
	return iapi.NewServer(c.Server.Listen, rt.router(c, logger))
}

func (rt *Runtime) router(c *Config, logger *slog.Logger) *iapi.Router {
	return iapi.NewRouter(rt.Supervisor, rt.Reclaimer, iapi.Options{
		BasePath:    c.Server.BasePath,
		DefaultPort: c.Node.Port,
		GhostPorts:  c.Node.GhostPorts,
		Dev:         c.Dev,
		Logger:      logger,
	})
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an unstarted server exposing /metrics from the
// default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeMetrics runs a metrics server on addr in the caller goroutine.
func ServeMetrics(addr string) error { return NewMetricsServer(addr).ListenAndServe() }
