package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/nodesup/internal/metrics"
	"github.com/loykin/nodesup/internal/tequilapi"
)

// ControlPlane is the subset of the node's HTTP API the supervisor needs.
type ControlPlane interface {
	HealthCheck(ctx context.Context) (tequilapi.Health, error)
	Stop(ctx context.Context) error
}

// Dialer returns a control-plane client for a loopback port. timeout bounds
// every request the client makes.
type Dialer func(port int, timeout time.Duration) ControlPlane

// TequilapiDialer returns a Dialer backed by the HTTP client.
func TequilapiDialer(logger *slog.Logger) Dialer {
	return func(port int, timeout time.Duration) ControlPlane {
		return observed{tequilapi.ForPort(port, timeout, logger)}
	}
}

// observed records control-plane latency.
type observed struct{ cp ControlPlane }

func (o observed) HealthCheck(ctx context.Context) (tequilapi.Health, error) {
	start := time.Now()
	h, err := o.cp.HealthCheck(ctx)
	metrics.ObserveControlPlane("healthcheck", err == nil, time.Since(start).Seconds())
	return h, err
}

func (o observed) Stop(ctx context.Context) error {
	start := time.Now()
	err := o.cp.Stop(ctx)
	metrics.ObserveControlPlane("stop", err == nil, time.Since(start).Seconds())
	return err
}
