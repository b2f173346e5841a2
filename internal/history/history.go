package history

import (
	"context"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventNodeStart      EventType = "node.start"
	EventNodeStop       EventType = "node.stop"
	EventNodeExit       EventType = "node.exit"
	EventGhostFound     EventType = "ghost.found"
	EventGhostReclaimed EventType = "ghost.reclaimed"
	EventGhostFailed    EventType = "ghost.failed"
)

// Event is one lifecycle fact exported to external systems. It is an audit
// trail only; nothing reads it back to rebuild supervisor state.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	Port       int       `json:"port,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Method     string    `json:"method,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Memory keeps events in process. Useful for embedding and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns recorded events of type t.
func (m *Memory) OfType(t EventType) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
