package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct walks the struct tree and fills tagged fields from the environment.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookupEnv(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookupEnv returns the first non-empty value among the primary and alternate names.
func lookupEnv(primary, alt string) (string, bool) {
	if v := os.Getenv(primary); v != "" {
		return v, true
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField converts value to the field's type.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case field.Kind() == reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// parseBool accepts the strconv forms plus yes/no and on/off.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %w", err)
	}
	return b, nil
}

// Validate checks that the configuration is usable.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	// Database
	if c.Database.URL == "" && c.Database.Host == "" {
		errs = append(errs, "DB_HOST or DATABASE_URL is required")
	}
	if c.Database.URL == "" && (c.Database.Port <= 0 || c.Database.Port > 65535) {
		errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 1-65535", c.Database.Port))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Sprintf("DB_MIN_CONNS (%d) must be between 0 and DB_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns))
	}
	if c.Database.ConnectRetries <= 0 {
		errs = append(errs, "DB_CONNECT_RETRIES must be positive")
	}
	if c.Database.ConnectRetryInterval <= 0 {
		errs = append(errs, "DB_CONNECT_RETRY_INTERVAL must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Pipeline
	if c.Pipeline.InputFile == "" {
		errs = append(errs, "INPUT_FILE is required")
	}
	if c.Pipeline.OutputDir == "" {
		errs = append(errs, "OUTPUT_DIR is required")
	}
	if c.Pipeline.TableName == "" {
		errs = append(errs, "TABLE_NAME is required")
	}
	if utf8.RuneCountInString(c.Pipeline.Delimiter) != 1 {
		errs = append(errs, fmt.Sprintf("INGEST_DELIMITER (%q) must be a single character", c.Pipeline.Delimiter))
	} else if d := c.Pipeline.DelimiterRune(); d == '"' || d == '\r' || d == '\n' {
		errs = append(errs, fmt.Sprintf("INGEST_DELIMITER (%q) cannot be a quote or newline", c.Pipeline.Delimiter))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "INGEST_BATCH_SIZE must be positive")
	}
	switch strings.ToLower(c.Pipeline.MalformedPolicy) {
	case "skip", "abort":
	default:
		errs = append(errs, fmt.Sprintf("INGEST_MALFORMED_POLICY (%q) must be one of: skip, abort", c.Pipeline.MalformedPolicy))
	}

	// Scheduler
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		errs = append(errs, fmt.Sprintf("SCHEDULER_HOUR (%d) must be 0-23", c.Scheduler.Hour))
	}
	if c.Scheduler.Minute < 0 || c.Scheduler.Minute > 59 {
		errs = append(errs, fmt.Sprintf("SCHEDULER_MINUTE (%d) must be 0-59", c.Scheduler.Minute))
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULER_TZ (%q) is not a known timezone", c.Scheduler.Timezone))
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a log-safe summary; credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	if c.Database.URL != "" {
		b.WriteString("Database: {URL: [MASKED]}, ")
	} else {
		fmt.Fprintf(&b, "Database: {Host: %q, Port: %d, Name: %q, User: %q, Password: [MASKED]}, ",
			c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User)
	}
	fmt.Fprintf(&b, "Pipeline: {Input: %q, Output: %q, Table: %q, BatchSize: %d, Policy: %q}, ",
		c.Pipeline.InputPath(), c.Pipeline.OutputDir, c.Pipeline.TableName,
		c.Pipeline.BatchSize, c.Pipeline.MalformedPolicy)
	fmt.Fprintf(&b, "Scheduler: {Enabled: %v, At: %02d:%02d, RunOnStartup: %v}, ",
		c.Scheduler.Enabled, c.Scheduler.Hour, c.Scheduler.Minute, c.Scheduler.RunOnStartup)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
