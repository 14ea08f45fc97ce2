package db

import (
	"context"
	"testing"
	"time"

	"github.com/lememe/leme/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSLMode(t *testing.T) {
	assert.Equal(t, "disable", sslMode(false, true))
	assert.Equal(t, "disable", sslMode(false, false))
	assert.Equal(t, "require", sslMode(true, true))
	assert.Equal(t, "verify-full", sslMode(true, false))
}

func TestPgxConnectorPoolConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Database
	cfg.Host = "db.internal"
	cfg.Port = 20902
	cfg.Name = "leveme"
	cfg.User = "svc"
	cfg.Password = "p@ss:word"
	cfg.MaxConns = 7
	cfg.MinConns = 1
	cfg.IdleTimeout = "45s"
	cfg.ConnectTimeout = "3s"

	c := NewPgxConnector(cfg)
	pcfg, err := c.poolConfig()
	require.NoError(t, err)

	assert.Equal(t, int32(7), pcfg.MaxConns)
	assert.Equal(t, int32(1), pcfg.MinConns)
	assert.Equal(t, 45*time.Second, pcfg.MaxConnIdleTime)
	assert.Equal(t, 3*time.Second, pcfg.ConnConfig.ConnectTimeout)
	assert.Equal(t, "db.internal", pcfg.ConnConfig.Host)
	assert.Equal(t, uint16(20902), pcfg.ConnConfig.Port)
	assert.Equal(t, "leveme", pcfg.ConnConfig.Database)
	assert.Equal(t, "svc", pcfg.ConnConfig.User)
	assert.Equal(t, "p@ss:word", pcfg.ConnConfig.Password)
	assert.Nil(t, pcfg.ConnConfig.TLSConfig)
	assert.Equal(t, "leme", pcfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPgxConnectorDescribeRedactsPassword(t *testing.T) {
	cfg := config.NewDefaultConfig().Database
	cfg.User = "svc"
	cfg.Password = "secret"

	desc := NewPgxConnector(cfg).Describe()
	assert.NotContains(t, desc, "secret")
	assert.Contains(t, desc, "svc")
	assert.Contains(t, desc, "sslmode=disable")
}

func TestPgxConnectorUnreachable(t *testing.T) {
	cfg := config.NewDefaultConfig().Database
	cfg.Host = "127.0.0.1"
	cfg.Port = 1 // nothing listens here
	cfg.ConnectTimeout = "500ms"

	pool, err := NewPgxConnector(cfg).Connect(context.Background(), func(error) {
		t.Error("onError must not be called for a pool that was never returned")
	})
	require.Error(t, err)
	assert.Nil(t, pool)
	assert.True(t, IsConnectionError(err), "unexpected error class: %v", err)
}
