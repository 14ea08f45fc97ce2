package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lememe/leme/config"
	"github.com/lememe/leme/helpers"
	"github.com/lememe/leme/logger"
)

// PgxConnector opens pgxpool pools against PostgreSQL.
type PgxConnector struct {
	cfg config.DatabaseConfig
}

func NewPgxConnector(cfg config.DatabaseConfig) *PgxConnector {
	return &PgxConnector{cfg: cfg}
}

func (c *PgxConnector) Driver() string {
	return config.DriverPostgres
}

func (c *PgxConnector) Describe() string {
	return helpers.MaskDSN(c.connString())
}

// sslMode maps the encrypt and trust-server-certificate flags onto libpq
// sslmode values.
func sslMode(encrypt, trustServerCertificate bool) string {
	switch {
	case !encrypt:
		return "disable"
	case trustServerCertificate:
		return "require"
	default:
		return "verify-full"
	}
}

func (c *PgxConnector) connString() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)),
		Path:     "/" + c.cfg.Name,
		RawQuery: "sslmode=" + sslMode(c.cfg.Encrypt, c.cfg.TrustServerCertificate),
	}
	switch {
	case c.cfg.User != "" && c.cfg.Password != "":
		u.User = url.UserPassword(c.cfg.User, c.cfg.Password)
	case c.cfg.User != "":
		u.User = url.User(c.cfg.User)
	}
	return u.String()
}

func (c *PgxConnector) poolConfig() (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(c.connString())
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse connection string: %v", ErrInvalidConfig, err)
	}

	idle, err := c.cfg.GetIdleTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	connectTimeout, err := c.cfg.GetConnectTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	pcfg.MaxConns = int32(c.cfg.MaxConns)
	pcfg.MinConns = int32(c.cfg.MinConns)
	pcfg.MaxConnIdleTime = idle
	pcfg.ConnConfig.ConnectTimeout = connectTimeout
	pcfg.ConnConfig.RuntimeParams["application_name"] = "leme"
	if c.cfg.LogQueries {
		pcfg.ConnConfig.Tracer = &queryTracer{}
	}
	return pcfg, nil
}

// Connect creates the pool and verifies it with a ping bounded by the
// connect timeout. The pool is closed again if the ping fails.
func (c *PgxConnector) Connect(ctx context.Context, onError func(error)) (Pool, error) {
	pcfg, err := c.poolConfig()
	if err != nil {
		return nil, err
	}
	healthInterval, err := c.cfg.GetHealthCheckInterval()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pcfg.ConnConfig.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	logger.Info("Database pool created", "component", "DB", "target", c.Describe(),
		"max_conns", pcfg.MaxConns, "min_conns", pcfg.MinConns, "max_idle", pcfg.MaxConnIdleTime)

	p := &pgxPool{pool: pool}
	p.w = newWatcher(pool.Ping, healthInterval, pcfg.ConnConfig.ConnectTimeout, onError)
	p.w.start()
	return p, nil
}

type pgxPool struct {
	pool *pgxpool.Pool
	w    *watcher
}

func (p *pgxPool) QueryRows(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.w.observe(err)
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		p.w.observe(err)
		return nil, err
	}
	if result == nil {
		result = []Row{}
	}
	return result, nil
}

func (p *pgxPool) Ping(ctx context.Context) error {
	err := p.pool.Ping(ctx)
	if err != nil {
		p.w.observe(err)
	}
	return err
}

func (p *pgxPool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		TotalConns:    int(s.TotalConns()),
		IdleConns:     int(s.IdleConns()),
		AcquiredConns: int(s.AcquiredConns()),
		MaxConns:      int(s.MaxConns()),
	}
}

func (p *pgxPool) Close() {
	p.w.close()
	p.pool.Close()
}

// queryTracer logs report queries at debug level.
type queryTracer struct{}

type traceStartKey struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, time.Now())
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	var elapsed time.Duration
	if start, ok := ctx.Value(traceStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	if data.Err != nil {
		logger.Debug("Query failed", "component", "DB", "duration", elapsed, "error", data.Err)
		return
	}
	logger.Debug("Query completed", "component", "DB", "duration", elapsed, "command", data.CommandTag.String())
}
