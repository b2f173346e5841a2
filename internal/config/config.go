package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
	"github.com/spf13/viper"

	"github.com/loykin/nodesup/internal/logger"
	"github.com/loykin/nodesup/internal/node"
)

// EnvPrefix prefixes environment overrides, e.g. NODESUP_NODE_PORT.
const EnvPrefix = "NODESUP"

const (
	DefaultListen        = "127.0.0.1:44060"
	DefaultBasePath      = "/api"
	DefaultMetricsListen = "127.0.0.1:44061"
)

// ErrExists is returned by WriteDefault when the target file exists.
var ErrExists = errors.New("config file already exists")

// Config is the top-level TOML structure.
type Config struct {
	// Dev disables ghost reclaiming, both at startup and over the API.
	Dev     bool          `mapstructure:"dev"`
	Node    NodeConfig    `mapstructure:"node"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
}

type NodeConfig struct {
	// Binary is the node executable; defaults to bin/myst next to nodesup.
	Binary         string        `mapstructure:"binary"`
	WorkDir        string        `mapstructure:"workdir"`
	Port           int           `mapstructure:"port"`
	GhostPorts     []int         `mapstructure:"ghost_ports"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	Autostart      bool          `mapstructure:"autostart"`
	ReclaimOnStart bool          `mapstructure:"reclaim_on_start"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	PIDFile  string `mapstructure:"pidfile"`
	LogFile  string `mapstructure:"logfile"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Logger converts the section into logger.Config.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig selects where lifecycle events are exported. DSN schemes:
// sqlite://, postgres://, clickhouse://, opensearch://.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Port:           node.DefaultPort,
			GhostPorts:     node.GhostPorts(),
			StopTimeout:    node.DefaultStopTimeout,
			ProbeTimeout:   node.DefaultProbeTimeout,
			Autostart:      true,
			ReclaimOnStart: true,
		},
		Server: ServerConfig{
			Listen:   DefaultListen,
			BasePath: DefaultBasePath,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     logger.FormatText,
			MaxSizeMB:  logger.DefaultMaxSizeMB,
			MaxBackups: logger.DefaultMaxBackups,
			MaxAgeDays: logger.DefaultMaxAgeDays,
		},
		Metrics: MetricsConfig{Listen: DefaultMetricsListen},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("dev", d.Dev)
	v.SetDefault("node.binary", d.Node.Binary)
	v.SetDefault("node.workdir", d.Node.WorkDir)
	v.SetDefault("node.port", d.Node.Port)
	v.SetDefault("node.ghost_ports", d.Node.GhostPorts)
	v.SetDefault("node.stop_timeout", d.Node.StopTimeout)
	v.SetDefault("node.probe_timeout", d.Node.ProbeTimeout)
	v.SetDefault("node.autostart", d.Node.Autostart)
	v.SetDefault("node.reclaim_on_start", d.Node.ReclaimOnStart)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.pidfile", d.Server.PIDFile)
	v.SetDefault("server.logfile", d.Server.LogFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsn", d.History.DSN)
}

// Load reads the TOML file at path, applies NODESUP_* environment overrides
// and validates the result. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate checks value ranges and normalizes the API base path.
func (c *Config) Validate() error {
	if !validPort(c.Node.Port) {
		return fmt.Errorf("node.port: invalid port %d", c.Node.Port)
	}
	for _, p := range c.Node.GhostPorts {
		if !validPort(p) {
			return fmt.Errorf("node.ghost_ports: invalid port %d", p)
		}
	}
	if c.Node.StopTimeout <= 0 {
		return fmt.Errorf("node.stop_timeout must be positive, got %s", c.Node.StopTimeout)
	}
	if c.Node.ProbeTimeout <= 0 {
		return fmt.Errorf("node.probe_timeout must be positive, got %s", c.Node.ProbeTimeout)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	if c.History.Enabled && c.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	return nil
}

// ResolveBinary returns the node executable path. Without an explicit
// setting it is bin/myst (myst.exe on Windows) next to the running program.
func (c *Config) ResolveBinary() (string, error) {
	if c.Node.Binary != "" {
		return filepath.Abs(c.Node.Binary)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "bin", node.BinaryName()), nil
}

// fileView mirrors Config for TOML encoding with durations as strings.
type fileView struct {
	Dev  bool `toml:"dev"`
	Node struct {
		Binary         string `toml:"binary"`
		WorkDir        string `toml:"workdir"`
		Port           int    `toml:"port"`
		GhostPorts     []int  `toml:"ghost_ports"`
		StopTimeout    string `toml:"stop_timeout"`
		ProbeTimeout   string `toml:"probe_timeout"`
		Autostart      bool   `toml:"autostart"`
		ReclaimOnStart bool   `toml:"reclaim_on_start"`
	} `toml:"node"`
	Server struct {
		Listen   string `toml:"listen"`
		BasePath string `toml:"base_path"`
		PIDFile  string `toml:"pidfile"`
		LogFile  string `toml:"logfile"`
	} `toml:"server"`
	Log struct {
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Listen  string `toml:"listen"`
	} `toml:"metrics"`
	History struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"history"`
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var f fileView
	f.Dev = c.Dev
	f.Node.Binary = c.Node.Binary
	f.Node.WorkDir = c.Node.WorkDir
	f.Node.Port = c.Node.Port
	f.Node.GhostPorts = c.Node.GhostPorts
	f.Node.StopTimeout = c.Node.StopTimeout.String()
	f.Node.ProbeTimeout = c.Node.ProbeTimeout.String()
	f.Node.Autostart = c.Node.Autostart
	f.Node.ReclaimOnStart = c.Node.ReclaimOnStart
	f.Server.Listen = c.Server.Listen
	f.Server.BasePath = c.Server.BasePath
	f.Server.PIDFile = c.Server.PIDFile
	f.Server.LogFile = c.Server.LogFile
	f.Log.Level = c.Log.Level
	f.Log.Format = c.Log.Format
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays
	f.Log.Compress = c.Log.Compress
	f.Metrics.Enabled = c.Metrics.Enabled
	f.Metrics.Listen = c.Metrics.Listen
	f.History.Enabled = c.History.Enabled
	f.History.DSN = c.History.DSN

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. Existing files are
// kept unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := Default().Encode()
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, data, 0o644)
}
