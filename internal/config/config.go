// Package config loads server settings from defaults, an optional TOML
// file, an optional .env file and TRACEQL_* environment variables, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable Load reads.
const EnvPrefix = "TRACEQL"

// DefaultFile is read when Load is given no path and the file exists in the
// working directory.
const DefaultFile = "traceql.toml"

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// TRACEQL_HTTP_ADDR (default ":5050")
	HTTPAddr string `toml:"http_addr" envconfig:"HTTP_ADDR"`
	// TRACEQL_GRPC_ADDR (default ":9090", empty = disabled)
	GRPCAddr string `toml:"grpc_addr" envconfig:"GRPC_ADDR"`
	// TRACEQL_BACKEND (sqlite|postgres)
	Backend string `toml:"backend" envconfig:"BACKEND"`
	// TRACEQL_DATABASE_URL (required for postgres)
	DatabaseURL string `toml:"database_url" envconfig:"DATABASE_URL"`
	// TRACEQL_SQLITE_PATH (default "traceql.db")
	SQLitePath string `toml:"sqlite_path" envconfig:"SQLITE_PATH"`
	// TRACEQL_NATS_URL (optional, empty = no fan-out)
	NATSURL string `toml:"nats_url" envconfig:"NATS_URL"`
	// TRACEQL_CORS_ORIGIN (default "*", empty = no CORS headers)
	CORSOrigin string `toml:"cors_origin" envconfig:"CORS_ORIGIN"`
	// TRACEQL_LOG_LEVEL (default "info")
	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL"`
	// TRACEQL_LOG_FORMAT (text|json)
	LogFormat string `toml:"log_format" envconfig:"LOG_FORMAT"`
	// TRACEQL_STREAM_BUFFER (default 64)
	StreamBuffer int `toml:"stream_buffer" envconfig:"STREAM_BUFFER"`
	// TRACEQL_SERVICE_STALE_AFTER (default 5m)
	ServiceStaleAfter time.Duration `toml:"service_stale_after" envconfig:"SERVICE_STALE_AFTER"`

	Archive Archive `toml:"archive" envconfig:"ARCHIVE"`
}

// Archive configures the periodic event export.
type Archive struct {
	// TRACEQL_ARCHIVE_INTERVAL (0 = disabled)
	Interval time.Duration `toml:"interval" envconfig:"INTERVAL"`
	// TRACEQL_ARCHIVE_DIR
	Dir string `toml:"dir" envconfig:"DIR"`
	// TRACEQL_ARCHIVE_S3_BUCKET (enables S3 when set)
	S3Bucket string `toml:"s3_bucket" envconfig:"S3_BUCKET"`
	// TRACEQL_ARCHIVE_S3_PREFIX (default "traceql/")
	S3Prefix string `toml:"s3_prefix" envconfig:"S3_PREFIX"`
	// TRACEQL_ARCHIVE_S3_REGION (default "us-east-1")
	S3Region string `toml:"s3_region" envconfig:"S3_REGION"`
	// TRACEQL_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	S3Endpoint string `toml:"s3_endpoint" envconfig:"S3_ENDPOINT"`
}

// Enabled reports whether archiving should run.
func (a Archive) Enabled() bool {
	return a.Interval > 0 && (a.Dir != "" || a.S3Bucket != "")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:          ":5050",
		GRPCAddr:          ":9090",
		Backend:           BackendSQLite,
		SQLitePath:        "traceql.db",
		CORSOrigin:        "*",
		LogLevel:          "info",
		LogFormat:         "text",
		StreamBuffer:      64,
		ServiceStaleAfter: 5 * time.Minute,
		Archive: Archive{
			S3Prefix: "traceql/",
			S3Region: "us-east-1",
		},
	}
}

// Load builds the configuration. When path is empty, DefaultFile is used if
// it exists. A .env file in the working directory is loaded without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite backend", EnvPrefix)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the postgres backend", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendSQLite, BackendPostgres)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("stream_buffer must be positive, got %d", c.StreamBuffer)
	}
	if c.ServiceStaleAfter <= 0 {
		return fmt.Errorf("service_stale_after must be positive, got %s", c.ServiceStaleAfter)
	}
	if c.Archive.Interval < 0 {
		return fmt.Errorf("archive interval must not be negative, got %s", c.Archive.Interval)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// NewLogger returns the logger described by c, writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
