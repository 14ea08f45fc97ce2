package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:3000", cfg.HTTP.Addr())
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 0, cfg.Database.MinConns)
	assert.True(t, cfg.Database.TrustServerCertificate)
	assert.False(t, cfg.Database.Encrypt)

	idle, err := cfg.Database.GetIdleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, idle)

	delay, err := cfg.Database.GetConnectRetryDelay()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, delay)
}

func TestApplyEnv(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":                        "8080",
		"DB_SERVER":                   "db.internal",
		"DB_PORT":                     "20902",
		"DB_DATABASE":                 "reports",
		"DB_USER":                     "svc",
		"DB_PASSWORD":                 "secret",
		"DB_ENCRYPT":                  "true",
		"DB_TRUST_SERVER_CERTIFICATE": "false",
		"DB_POOL_MAX":                 "4",
		"DB_REQUEST_TIMEOUT":          "10s",
		"LOG_LEVEL":                   "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 20902, cfg.Database.Port)
	assert.Equal(t, "reports", cfg.Database.Name)
	assert.Equal(t, "svc", cfg.Database.User)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.True(t, cfg.Database.Encrypt)
	assert.False(t, cfg.Database.TrustServerCertificate)
	assert.Equal(t, 4, cfg.Database.MaxConns)
	assert.Equal(t, "10s", cfg.Database.QueryTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvPrefersPrimaryName(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"DB_HOST":     "primary",
		"DB_SERVER":   "fallback",
		"DB_NAME":     "main",
		"DB_DATABASE": "other",
	})))
	assert.Equal(t, "primary", cfg.Database.Host)
	assert.Equal(t, "main", cfg.Database.Name)
}

func TestApplyEnvBooleanOnlyLiteralTrue(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"DB_ENCRYPT":                  "1",
		"DB_TRUST_SERVER_CERTIFICATE": "yes",
	})))
	assert.False(t, cfg.Database.Encrypt)
	assert.False(t, cfg.Database.TrustServerCertificate)
}

func TestApplyEnvInvalidInteger(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{"DB_PORT": "abc"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"port out of range", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"zero max conns", func(c *Config) { c.Database.MaxConns = 0 }, "max_conns"},
		{"min above max", func(c *Config) { c.Database.MinConns = 20 }, "min_conns"},
		{"no retries", func(c *Config) { c.Database.ConnectRetries = 0 }, "connect_retries"},
		{"bad duration", func(c *Config) { c.Database.QueryTimeout = "soon" }, "database.query_timeout"},
		{"negative duration", func(c *Config) { c.Database.IdleTimeout = "-1s" }, "database.idle_timeout"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "unknown database.driver"},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.Name = ""
		}, "file path"},
		{"tls without key", func(c *Config) {
			c.HTTP.TLS = true
			c.HTTP.TLSCertFile = "/etc/leme/cert.pem"
		}, "tls_key_file"},
		{"report without sql", func(c *Config) {
			c.Reports = []ReportConfig{{Name: "a", Path: "/a"}}
		}, "sql is required"},
		{"report path without slash", func(c *Config) {
			c.Reports = []ReportConfig{{Name: "a", Path: "a", SQL: "SELECT 1"}}
		}, "must start with"},
		{"duplicate report name", func(c *Config) {
			c.Reports = []ReportConfig{
				{Name: "a", Path: "/a", SQL: "SELECT 1"},
				{Name: "a", Path: "/b", SQL: "SELECT 1"},
			}
		}, "duplicate report name"},
		{"duplicate report path", func(c *Config) {
			c.Reports = []ReportConfig{
				{Name: "a", Path: "/a", SQL: "SELECT 1"},
				{Name: "b", Path: "/a", SQL: "SELECT 1"},
			}
		}, "duplicate report path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
[database]
host = "  db.example.com  "
port = 6432
name = "leveme"
max_conns = 5
query_timeout = "12s"
unknown_key = "ignored"

[http]
port = 8081

[[reports]]
name = "top-products"
path = "/top-products"
sql = "SELECT 1"
`
	path := filepath.Join(t.TempDir(), "leme.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))

	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, 5, cfg.Database.MaxConns)
	assert.Equal(t, 8081, cfg.HTTP.Port)
	// Defaults survive for keys the file does not mention.
	assert.Equal(t, "15s", cfg.Database.ConnectTimeout)
	require.Len(t, cfg.Reports, 1)
	assert.Equal(t, "top-products", cfg.Reports[0].Name)

	qt, err := cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, qt)
}

func TestLoadConfigFromFileSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\nencrypt = f\n"), 0644))

	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HINT")
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(filepath.Join("..", "leme.toml.example"), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Empty(t, cfg.Reports)
}
