package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds the connection settings for the report backend.
// It is read once at startup and treated as immutable afterwards.
type DatabaseConfig struct {
	Driver                 string `toml:"driver"`   // "postgres" (default) or "sqlite"
	Host                   string `toml:"host"`     // Database host
	Port                   int    `toml:"port"`     // Database port (default: 5432)
	Name                   string `toml:"name"`     // Database name, or file path for sqlite
	User                   string `toml:"user"`     // Login user
	Password               string `toml:"password"` // Login password
	Encrypt                bool   `toml:"encrypt"`  // Require TLS to the backend
	TrustServerCertificate bool   `toml:"trust_server_certificate"`
	MaxConns               int    `toml:"max_conns"`             // Maximum number of connections in the pool
	MinConns               int    `toml:"min_conns"`             // Minimum number of connections in the pool
	IdleTimeout            string `toml:"idle_timeout"`          // Idle time before a pooled connection is closed (e.g., "30s")
	ConnectTimeout         string `toml:"connect_timeout"`       // Timeout for establishing the pool (e.g., "15s")
	QueryTimeout           string `toml:"query_timeout"`         // Timeout for a single report query (e.g., "30s")
	HealthCheckInterval    string `toml:"health_check_interval"` // How often a live pool is pinged (e.g., "15s")
	ConnectRetries         int    `toml:"connect_retries"`       // Startup connection attempts
	ConnectRetryDelay      string `toml:"connect_retry_delay"`   // Fixed delay between startup attempts (e.g., "5s")
	LogQueries             bool   `toml:"log_queries"`           // Log every report query at debug level
}

func (d *DatabaseConfig) GetIdleTimeout() (time.Duration, error) {
	return parseDuration(d.IdleTimeout, 30*time.Second)
}

func (d *DatabaseConfig) GetConnectTimeout() (time.Duration, error) {
	return parseDuration(d.ConnectTimeout, 15*time.Second)
}

func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	return parseDuration(d.QueryTimeout, 30*time.Second)
}

func (d *DatabaseConfig) GetHealthCheckInterval() (time.Duration, error) {
	return parseDuration(d.HealthCheckInterval, 15*time.Second)
}

func (d *DatabaseConfig) GetConnectRetryDelay() (time.Duration, error) {
	return parseDuration(d.ConnectRetryDelay, 5*time.Second)
}

// HTTPConfig holds the report API listener settings.
type HTTPConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	CORSOrigin      string `toml:"cors_origin"` // Value for Access-Control-Allow-Origin, "*" by default
	TLS             bool   `toml:"tls"`
	TLSCertFile     string `toml:"tls_cert_file"`
	TLSKeyFile      string `toml:"tls_key_file"`
}

// Addr returns the host:port the API listens on.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func (h *HTTPConfig) GetShutdownTimeout() (time.Duration, error) {
	return parseDuration(h.ShutdownTimeout, 5*time.Second)
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Path            string `toml:"path"`
	CollectInterval string `toml:"collect_interval"`
}

func (m *MetricsConfig) GetCollectInterval() (time.Duration, error) {
	return parseDuration(m.CollectInterval, 15*time.Second)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// ReportConfig declares an additional report, or replaces the SQL of a
// built-in report with the same name.
type ReportConfig struct {
	Name        string `toml:"name"`
	Path        string `toml:"path"`
	Description string `toml:"description"`
	SQL         string `toml:"sql"`
}

// Config is the root of the TOML configuration file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	HTTP     HTTPConfig     `toml:"http"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Logging  LoggingConfig  `toml:"logging"`
	Reports  []ReportConfig `toml:"reports"`
}

// NewDefaultConfig returns the configuration used when no file or
// environment override is present.
func NewDefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:                 DriverPostgres,
			Host:                   "localhost",
			Port:                   5432,
			Name:                   "levemefenix",
			Encrypt:                false,
			TrustServerCertificate: true,
			MaxConns:               10,
			MinConns:               0,
			IdleTimeout:            "30s",
			ConnectTimeout:         "15s",
			QueryTimeout:           "30s",
			HealthCheckInterval:    "15s",
			ConnectRetries:         10,
			ConnectRetryDelay:      "5s",
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ShutdownTimeout: "5s",
			CORSOrigin:      "*",
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			Addr:            ":9090",
			Path:            "/metrics",
			CollectInterval: "15s",
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
	}
}

// Validate checks the configuration for values that would make the
// service misbehave at runtime.
func (c *Config) Validate() error {
	db := &c.Database
	switch db.Driver {
	case DriverPostgres:
		if db.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if db.Port < 1 || db.Port > 65535 {
			return fmt.Errorf("database.port %d is out of range", db.Port)
		}
	case DriverSQLite:
		if db.Name == "" {
			return fmt.Errorf("database.name must be a file path for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", db.Driver)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be at least 1, got %d", db.MaxConns)
	}
	if db.MinConns < 0 || db.MinConns > db.MaxConns {
		return fmt.Errorf("database.min_conns must be between 0 and max_conns (%d), got %d", db.MaxConns, db.MinConns)
	}
	if db.ConnectRetries < 1 {
		return fmt.Errorf("database.connect_retries must be at least 1, got %d", db.ConnectRetries)
	}

	durations := map[string]func() (time.Duration, error){
		"database.idle_timeout":          db.GetIdleTimeout,
		"database.connect_timeout":       db.GetConnectTimeout,
		"database.query_timeout":         db.GetQueryTimeout,
		"database.health_check_interval": db.GetHealthCheckInterval,
		"database.connect_retry_delay":   db.GetConnectRetryDelay,
		"http.shutdown_timeout":          c.HTTP.GetShutdownTimeout,
		"metrics.collect_interval":       c.Metrics.GetCollectInterval,
	}
	for field, get := range durations {
		if _, err := get(); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	if c.HTTP.TLS && (c.HTTP.TLSCertFile == "" || c.HTTP.TLSKeyFile == "") {
		return fmt.Errorf("http.tls_cert_file and http.tls_key_file are required when http.tls is enabled")
	}

	names := make(map[string]bool)
	paths := make(map[string]bool)
	for i, r := range c.Reports {
		if r.Name == "" {
			return fmt.Errorf("reports[%d]: name is required", i)
		}
		if r.SQL == "" {
			return fmt.Errorf("report %q: sql is required", r.Name)
		}
		if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("report %q: path must start with '/'", r.Name)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate report name %q", r.Name)
		}
		names[r.Name] = true
		if r.Path != "" {
			if paths[r.Path] {
				return fmt.Errorf("duplicate report path %q", r.Path)
			}
			paths[r.Path] = true
		}
	}
	return nil
}

// parseDuration parses a duration string, returning def when s is empty.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// ApplyEnv overlays environment variables on top of the loaded configuration.
// lookup has the signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v == "true"
		}
	}
	integer := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("environment variable %s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}

	str(&c.HTTP.Host, "HOST")
	if err := integer(&c.HTTP.Port, "PORT"); err != nil {
		return err
	}

	db := &c.Database
	str(&db.Driver, "DB_DRIVER")
	str(&db.Host, "DB_HOST", "DB_SERVER")
	if err := integer(&db.Port, "DB_PORT"); err != nil {
		return err
	}
	str(&db.Name, "DB_NAME", "DB_DATABASE")
	str(&db.User, "DB_USER")
	str(&db.Password, "DB_PASSWORD")
	boolean(&db.Encrypt, "DB_ENCRYPT")
	boolean(&db.TrustServerCertificate, "DB_TRUST_SERVER_CERTIFICATE")
	for key, dst := range map[string]*int{
		"DB_POOL_MAX":        &db.MaxConns,
		"DB_POOL_MIN":        &db.MinConns,
		"DB_CONNECT_RETRIES": &db.ConnectRetries,
	} {
		if err := integer(dst, key); err != nil {
			return err
		}
	}
	str(&db.IdleTimeout, "DB_IDLE_TIMEOUT")
	str(&db.ConnectTimeout, "DB_CONNECT_TIMEOUT")
	str(&db.QueryTimeout, "DB_REQUEST_TIMEOUT")
	str(&db.ConnectRetryDelay, "DB_CONNECT_RETRY_DELAY")

	str(&c.Logging.Level, "LOG_LEVEL")
	str(&c.Logging.Format, "LOG_FORMAT")
	str(&c.Logging.Output, "LOG_OUTPUT")
	return nil
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace from all string fields.
// Unknown keys are logged and ignored; syntax errors are returned with a hint.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError provides more helpful error messages for common TOML parsing issues
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please check your configuration file and remove or comment out the duplicate entry", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file.\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check that strings are quoted, brackets are balanced and\n"+
			"section headers use [section] or [[array]] format", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if field.CanSet() {
				trimStringFields(field)
			}
		}

	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
