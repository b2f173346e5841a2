package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/nodesup/internal/history"
)

const historyTimeout = 2 * time.Second

// recorder fans events out to history sinks. Sink failures are logged only.
type recorder struct {
	runID  string
	sinks  []history.Sink
	logger *slog.Logger
}

func (r *recorder) record(e history.Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	e.RunID = r.runID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("History sink failed", "event", e.Type, "error", err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
