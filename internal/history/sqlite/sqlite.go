package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/nodesup/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS node_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			run_id TEXT NOT NULL,
			event TEXT NOT NULL,
			port INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			method TEXT NOT NULL,
			exit_code INTEGER NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_node_history_run ON node_history(run_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_history(occurred_at, run_id, event, port, pid, method, exit_code, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), e.RunID, string(e.Type), e.Port, e.PID, e.Method, nullInt(e.ExitCode), nullString(e.Error))
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
