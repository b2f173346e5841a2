package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/nodesup/internal/history"
)

// DefaultIndex receives node lifecycle documents when the DSN names none.
const DefaultIndex = "node-history"

// Sink indexes node lifecycle events as OpenSearch documents.
//
// Each event is written with PUT <index>/_doc/<id>, where the id is derived
// from the run, event type and timestamp, so a resend after a timeout
// overwrites the earlier copy instead of duplicating it.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// New returns a sink for the cluster at baseURL. An empty index selects
// DefaultIndex.
func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

// document is the indexed shape. The node block groups what identifies the
// process so dashboards can facet on node.port and node.pid.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	RunID     string    `json:"run_id,omitempty"`
	Node      nodeDoc   `json:"node"`
	Method    string    `json:"stop_method,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type nodeDoc struct {
	Port int `json:"port,omitempty"`
	PID  int `json:"pid,omitempty"`
}

func toDocument(e history.Event) document {
	return document{
		Timestamp: e.OccurredAt.UTC(),
		Event:     string(e.Type),
		RunID:     e.RunID,
		Node:      nodeDoc{Port: e.Port, PID: e.PID},
		Method:    e.Method,
		ExitCode:  e.ExitCode,
		Error:     e.Error,
	}
}

func docID(e history.Event) string {
	return fmt.Sprintf("%s-%s-%d", e.RunID, e.Type, e.OccurredAt.UnixNano())
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(toDocument(e))
	if err != nil {
		return fmt.Errorf("opensearch: encode %s: %w", e.Type, err)
	}
	u := s.baseURL + "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(docID(e))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: index %s: %w", s.index, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.index, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
