package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/nodesup/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	code := 0
	events := []history.Event{
		{Type: history.EventNodeStart, OccurredAt: time.Now().UTC(), RunID: "run-1", Port: 44050, PID: 1234},
		{Type: history.EventNodeExit, OccurredAt: time.Now().UTC(), RunID: "run-1", Port: 44050, PID: 1234, ExitCode: &code},
		{Type: history.EventGhostFailed, OccurredAt: time.Now().UTC(), RunID: "run-1", Port: 4050, PID: 9321, Method: "failed", Error: "signal failed"},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	var n int
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_history WHERE run_id = ?`, "run-1").Scan(&n))
	assert.Equal(t, 3, n)

	var exitCode sql.NullInt64
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT exit_code FROM node_history WHERE event = ?`, "node.exit").Scan(&exitCode))
	assert.True(t, exitCode.Valid)
	assert.EqualValues(t, 0, exitCode.Int64)

	var errText sql.NullString
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT error FROM node_history WHERE event = ?`, "ghost.failed").Scan(&errText))
	assert.Equal(t, "signal failed", errText.String)
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventNodeStop, RunID: "r", Method: "graceful"}))
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
