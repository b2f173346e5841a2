package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	nodeStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "node",
			Name:      "starts_total",
			Help:      "Number of node processes spawned.",
		},
	)
	nodeStartFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "node",
			Name:      "start_failures_total",
			Help:      "Number of spawn attempts refused by the OS.",
		},
	)
	nodeStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "node",
			Name:      "stops_total",
			Help:      "Number of Stop calls by resolved method (none, graceful, forced, failed).",
		}, []string{"method"},
	)
	nodeExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "node",
			Name:      "exits_total",
			Help:      "Number of observed node process exits.",
		},
	)
	nodeRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodesup",
			Subsystem: "node",
			Name:      "running",
			Help:      "1 while a spawned node process is tracked as running.",
		},
	)
	ghostProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "ghost",
			Name:      "probes_total",
			Help:      "Ghost probes by outcome.",
		}, []string{"outcome"},
	)
	ghostReclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodesup",
			Subsystem: "ghost",
			Name:      "reclaims_total",
			Help:      "Ghost reclaim attempts by resolved method (graceful, forced, failed).",
		}, []string{"method"},
	)
	controlPlaneDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodesup",
			Subsystem: "controlplane",
			Name:      "request_duration_seconds",
			Help:      "Latency of control-plane calls by operation and result.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{nodeStarts, nodeStartFailures, nodeStops, nodeExits, nodeRunning, ghostProbes, ghostReclaims, controlPlaneDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		nodeStarts.Inc()
	}
}

func IncStartFailure() {
	if regOK.Load() {
		nodeStartFailures.Inc()
	}
}

func IncStop(method string) {
	if regOK.Load() {
		nodeStops.WithLabelValues(method).Inc()
	}
}

func IncExit() {
	if regOK.Load() {
		nodeExits.Inc()
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		nodeRunning.Set(v)
	}
}

func IncGhostProbe(outcome string) {
	if regOK.Load() {
		ghostProbes.WithLabelValues(outcome).Inc()
	}
}

func IncGhostReclaim(method string) {
	if regOK.Load() {
		ghostReclaims.WithLabelValues(method).Inc()
	}
}

func ObserveControlPlane(op string, ok bool, seconds float64) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		controlPlaneDuration.WithLabelValues(op, result).Observe(seconds)
	}
}
