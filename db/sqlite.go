package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/logger"

	_ "modernc.org/sqlite"
)

// SQLiteConnector opens database/sql pools on a local SQLite file, for
// development against a snapshot of the report data.
type SQLiteConnector struct {
	cfg config.DatabaseConfig
}

func NewSQLiteConnector(cfg config.DatabaseConfig) *SQLiteConnector {
	return &SQLiteConnector{cfg: cfg}
}

func (c *SQLiteConnector) Driver() string {
	return config.DriverSQLite
}

func (c *SQLiteConnector) Describe() string {
	return "sqlite:" + c.cfg.Name
}

func (c *SQLiteConnector) Connect(ctx context.Context, onError func(error)) (Pool, error) {
	idle, err := c.cfg.GetIdleTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	connectTimeout, err := c.cfg.GetConnectTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	healthInterval, err := c.cfg.GetHealthCheckInterval()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	sqlDB, err := sql.Open("sqlite", c.cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(c.cfg.MaxConns)
	sqlDB.SetMaxIdleConns(max(c.cfg.MinConns, 1))
	sqlDB.SetConnMaxIdleTime(idle)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	logger.Info("Database pool created", "component", "DB", "target", c.Describe(), "max_conns", c.cfg.MaxConns)

	p := &sqlPool{db: sqlDB, maxConns: c.cfg.MaxConns}
	p.w = newWatcher(sqlDB.PingContext, healthInterval, connectTimeout, onError)
	p.w.start()
	return p, nil
}

type sqlPool struct {
	db       *sql.DB
	maxConns int
	w        *watcher
}

func (p *sqlPool) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		p.w.observe(err)
		return nil, err
	}
	result, err := scanRows(rows)
	if err != nil {
		p.w.observe(err)
		return nil, err
	}
	return result, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Row{}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			// TEXT columns may come back as []byte; keep JSON output readable.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *sqlPool) Ping(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		p.w.observe(err)
	}
	return err
}

func (p *sqlPool) Stats() PoolStats {
	s := p.db.Stats()
	return PoolStats{
		TotalConns:    s.OpenConnections,
		IdleConns:     s.Idle,
		AcquiredConns: s.InUse,
		MaxConns:      p.maxConns,
	}
}

func (p *sqlPool) Close() {
	p.w.close()
	if err := p.db.Close(); err != nil {
		logger.Warn("Error closing sqlite pool", "component", "DB", "error", err)
	}
}
