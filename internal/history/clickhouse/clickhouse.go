package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/nodesup/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
// The target table must exist; see Schema.
type Sink struct {
	conn  driver.Conn
	table string
}

// Schema returns a CREATE TABLE statement matching what Send inserts.
func Schema(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		type String,
		occurred_at DateTime64(6),
		run_id String,
		port UInt16,
		pid Int32,
		method String,
		exit_code Nullable(Int32),
		error Nullable(String)
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, run_id)`
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, table: table}, nil
}

// EnsureTable creates the sink's table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, Schema(s.table))
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, run_id, port, pid, method, exit_code, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var exitCode *int32
	if e.ExitCode != nil {
		v := int32(*e.ExitCode)
		exitCode = &v
	}
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.RunID,
		uint16(e.Port),
		int32(e.PID),
		e.Method,
		exitCode,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
