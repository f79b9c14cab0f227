// Package config loads the pipeline configuration from environment variables.
// Every field has a default except where noted, and Load validates the whole
// struct up front so a misconfigured deployment fails at startup rather than
// at midnight.
package config

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ServiceName is reported by the health endpoint.
	ServiceName string `env:"SERVICE_NAME" default:"dsv-pipeline"`

	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envAlt:"PORT" default:"5000"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"` // runs can outlast any fixed write deadline
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds how long shutdown waits for in-flight runs.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds PostgreSQL connection settings.
//
// URL wins when set; otherwise the DSN is assembled from the discrete
// host/port/name/credential fields.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	Name     string `env:"DB_NAME" envAlt:"DB_SERVICE_NAME" default:"pipeline"`
	User     string `env:"DB_USER" default:"pipeline_user"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE" default:"disable"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectRetries caps connection attempts before a run gives up with
	// ConnectionUnavailable. A cold database at container start is normal.
	ConnectRetries       int           `env:"DB_CONNECT_RETRIES" default:"30"`
	ConnectRetryInterval time.Duration `env:"DB_CONNECT_RETRY_INTERVAL" default:"2s"`
}

// PipelineConfig holds ingest and export settings.
type PipelineConfig struct {
	InputDir  string `env:"INPUT_DIR" default:"data/input"`
	InputFile string `env:"INPUT_FILE" envAlt:"DSV_FILENAME" default:"RAW DATA.dsv"`
	OutputDir string `env:"OUTPUT_DIR" default:"data/output"`

	// TableName is the physical target table.
	TableName string `env:"TABLE_NAME" default:"C_DUNS_V"`

	// ExportName is the logical name used in snapshot filenames (default: TableName).
	ExportName string `env:"EXPORT_NAME"`

	Delimiter string `env:"INGEST_DELIMITER" default:"|"`
	BatchSize int    `env:"INGEST_BATCH_SIZE" default:"1000"`

	// MalformedPolicy is "skip" (count and continue) or "abort" (fail the run).
	MalformedPolicy string `env:"INGEST_MALFORMED_POLICY" default:"skip"`
}

// SchedulerConfig holds the nightly trigger settings.
type SchedulerConfig struct {
	Enabled      bool   `env:"SCHEDULER_ENABLED" default:"true"`
	Hour         int    `env:"SCHEDULER_HOUR" default:"0"`
	Minute       int    `env:"SCHEDULER_MINUTE" default:"0"`
	RunOnStartup bool   `env:"RUN_ON_STARTUP" default:"true"`
	Timezone     string `env:"SCHEDULER_TZ" envAlt:"TZ"`
}

// SecurityConfig guards the trigger endpoints.
type SecurityConfig struct {
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers
	// are believed. Empty means client IP is always the connection source.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// InputPath returns the full path of the raw input file.
func (c *PipelineConfig) InputPath() string {
	return filepath.Join(c.InputDir, c.InputFile)
}

// SnapshotName returns the logical name used in export filenames.
func (c *PipelineConfig) SnapshotName() string {
	if c.ExportName != "" {
		return c.ExportName
	}
	return c.TableName
}

// DelimiterRune returns the configured field delimiter.
func (c *PipelineConfig) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return '|'
}

// Location resolves the scheduler timezone, falling back to local time.
func (c *SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
