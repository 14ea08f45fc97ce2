package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/lememe/leme/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestPool(t *testing.T, onError func(error)) Pool {
	t.Helper()

	cfg := config.NewDefaultConfig().Database
	cfg.Driver = config.DriverSQLite
	cfg.Name = filepath.Join(t.TempDir(), "reports.db")
	cfg.MaxConns = 2

	pool, err := NewSQLiteConnector(cfg).Connect(context.Background(), onError)
	require.NoError(t, err)
	return pool
}

func TestSQLitePoolQueryRows(t *testing.T) {
	defer leaktest.Check(t)()

	pool := newSQLiteTestPool(t, func(err error) {
		t.Errorf("unexpected pool error: %v", err)
	})
	defer pool.Close()

	ctx := context.Background()
	_, err := pool.QueryRows(ctx, `CREATE TABLE sales (region TEXT, amount INTEGER)`)
	require.NoError(t, err)
	_, err = pool.QueryRows(ctx, `INSERT INTO sales VALUES ('north', 120), ('south', 80)`)
	require.NoError(t, err)

	rows, err := pool.QueryRows(ctx, `SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "north", rows[0]["region"])
	assert.Equal(t, int64(120), rows[0]["total"])
	assert.Equal(t, "south", rows[1]["region"])

	empty, err := pool.QueryRows(ctx, `SELECT region FROM sales WHERE amount > 1000`)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLitePoolQueryErrorKeepsPool(t *testing.T) {
	defer leaktest.Check(t)()

	pool := newSQLiteTestPool(t, func(err error) {
		t.Errorf("a bad query must not invalidate the pool: %v", err)
	})
	defer pool.Close()

	_, err := pool.QueryRows(context.Background(), `SELEC 1`)
	require.Error(t, err)
	assert.False(t, IsConnectionError(err))

	require.NoError(t, pool.Ping(context.Background()))
}

func TestSQLitePoolStats(t *testing.T) {
	pool := newSQLiteTestPool(t, nil)
	defer pool.Close()

	stats := pool.Stats()
	assert.Equal(t, 2, stats.MaxConns)
	assert.GreaterOrEqual(t, stats.TotalConns, 1)
	assert.Equal(t, 0, stats.AcquiredConns)
}

func TestSQLiteConnectorRejectsBadDurations(t *testing.T) {
	cfg := config.NewDefaultConfig().Database
	cfg.Driver = config.DriverSQLite
	cfg.Name = filepath.Join(t.TempDir(), "reports.db")
	cfg.IdleTimeout = "soon"

	_, err := NewSQLiteConnector(cfg).Connect(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
