// Package db opens connection pools to the report backend.
//
// A Connector creates a Pool on demand. Every Pool it returns is watched:
// a background goroutine pings it periodically, and queries that fail with
// a connection-class error are reported too. The first such failure is
// delivered to the onError callback passed to Connect, exactly once, and
// never after the pool has been closed. Callers use the notification to
// discard the pool and connect again.
package db

import (
	"context"
	"errors"
	"fmt"
)

// Row is a result row keyed by column name. Values are whatever the driver
// returned for the column.
type Row = map[string]any

// PoolStats is a point-in-time view of the connections in a pool.
type PoolStats struct {
	TotalConns    int
	IdleConns     int
	AcquiredConns int
	MaxConns      int
}

// Pool is a live set of reusable connections.
type Pool interface {
	QueryRows(ctx context.Context, sql string, args ...any) ([]Row, error)
	Ping(ctx context.Context) error
	Stats() PoolStats
	// Close stops the watcher and closes all connections. It blocks until
	// connections borrowed by in-flight queries have been released.
	Close()
}

// Connector establishes pools for one configured backend.
type Connector interface {
	Connect(ctx context.Context, onError func(error)) (Pool, error)
	Driver() string
	// Describe returns the target of the connector with credentials redacted.
	Describe() string
}

// ErrInvalidConfig marks connection failures that no amount of retrying fixes.
var ErrInvalidConfig = errors.New("invalid database configuration")

const (
	ReasonHealthCheck = "health_check"
	ReasonQueryError  = "query_error"
)

// PoolError is the error delivered to the onError callback of Connect.
type PoolError struct {
	Reason string
	Err    error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %s: %v", e.Reason, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason of a PoolError, or "unknown".
func ReasonOf(err error) string {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return "unknown"
}
