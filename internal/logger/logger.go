package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatColor = "color"
)

// Config describes the supervisor's own log output.
type Config struct {
	Level  string     // debug, info, warn, error (default info)
	Format string     // text, json or color (default text)
	File   FileConfig // optional rotating file; stderr is used when Path is empty
}

// FileConfig holds lumberjack rotation settings.
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // Gzip rotated files
}

// Writer returns a rotating writer for Path, or nil when no file is configured.
func (f FileConfig) Writer() io.WriteCloser {
	if f.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   f.Path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger from cfg. Output goes to the rotating file when one is
// configured, otherwise to stderr. The returned closer is never nil.
func New(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if w := cfg.File.Writer(); w != nil {
		out, closer = w, w
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		h = slog.NewTextHandler(out, opts)
	case FormatJSON:
		h = slog.NewJSONHandler(out, opts)
	case FormatColor:
		h = NewColorTextHandler(out, opts, true)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
