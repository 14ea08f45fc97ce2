package main

import (
	"testing"

	"github.com/lememe/leme/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnector(t *testing.T) {
	cfg := config.NewDefaultConfig().Database

	c, err := newConnector(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, c.Driver())

	cfg.Driver = config.DriverSQLite
	cfg.Name = "/tmp/leme.db"
	c, err = newConnector(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, c.Driver())
	assert.Equal(t, "sqlite:/tmp/leme.db", c.Describe())

	cfg.Driver = "mssql"
	_, err = newConnector(cfg)
	assert.Error(t, err)
}
