// Package resilient owns the single shared database pool of the process.
//
// A PoolManager moves through four states:
//
//	NO_POOL ──connect──▶ CONNECTING ──ok──▶ READY
//	   ▲                     │               │
//	   └──────failed─────────┘      error notification
//	   ▲                                     │
//	   └───────────────── BROKEN ◀───────────┘
//
// Only READY hands a pool out. At startup ConnectWithRetry spends a bounded
// budget of attempts with a fixed delay between them and gives up without
// failing the process. Afterwards every Acquire either returns the live
// handle or makes exactly one attempt to create a new one.
//
// Each pool reports its first failure through the callback given to
// db.Connector.Connect. The manager then drops its reference so that the
// next Acquire reconnects. Every handle returned by Acquire is borrowed and
// given back with Release; the discarded pool is closed once its last
// borrower releases it, so requests that already hold it complete normally.
//
//	mgr := resilient.NewPoolManager(connector, retry.Policy{MaxAttempts: 10, Delay: 5 * time.Second})
//	go mgr.StartupConnect(ctx)
//
//	h, err := mgr.Acquire(r.Context())
//	if errors.Is(err, resilient.ErrUnavailable) {
//		// 503
//	}
//	defer h.Release()
//	rows, err := h.QueryRows(ctx, query)
package resilient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/consts"
	"github.com/lememe/leme/db"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/pkg/metrics"
	"github.com/lememe/leme/pkg/retry"
)

// ErrUnavailable is returned whenever no usable pool could be handed out.
var ErrUnavailable = consts.ErrPoolUnavailable

var errClosed = fmt.Errorf("%w: %w", ErrUnavailable, consts.ErrManagerClosed)

const (
	pathStartup  = "startup"
	pathOnDemand = "on_demand"
)

// State is the lifecycle state of the shared pool.
type State int32

const (
	StateNoPool State = iota
	StateConnecting
	StateReady
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateNoPool:
		return "no_pool"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle is a borrowed reference to the shared pool. Every handle returned
// by Acquire must be given back with Release. A discarded pool is closed
// only after its last borrower has released it, so a request that obtained
// the handle before invalidation can still run its query.
type Handle struct {
	id        uint64
	pool      db.Pool
	createdAt time.Time
	broken    atomic.Bool

	mu      sync.Mutex
	borrows int
	retired bool
	closed  bool
}

// ID identifies the pool behind h. IDs are never reused within a process.
func (h *Handle) ID() uint64 {
	return h.id
}

// CreatedAt is when the pool behind h was installed.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// Broken reports whether the pool behind h has signalled a failure.
func (h *Handle) Broken() bool {
	return h.broken.Load()
}

// QueryRows runs sql on the pool behind h.
func (h *Handle) QueryRows(ctx context.Context, sql string, args ...any) ([]db.Row, error) {
	return h.pool.QueryRows(ctx, sql, args...)
}

// Ping checks that the pool behind h can reach the backend.
func (h *Handle) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

// Stats returns the connection counts of the pool behind h.
func (h *Handle) Stats() db.PoolStats {
	return h.pool.Stats()
}

// Release gives back a borrow taken by Acquire. Calling it more often than
// Acquire is a no-op.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.borrows > 0 {
		h.borrows--
	}
	closeNow := h.takeCloseLocked()
	h.mu.Unlock()

	if closeNow {
		go h.pool.Close()
	}
}

func (h *Handle) borrow() {
	h.mu.Lock()
	h.borrows++
	h.mu.Unlock()
}

// retire marks the pool as discarded and reports whether the caller must
// close it now, which is the case when nobody holds a borrow.
func (h *Handle) retire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retired = true
	return h.takeCloseLocked()
}

func (h *Handle) takeCloseLocked() bool {
	if !h.retired || h.borrows > 0 || h.closed {
		return false
	}
	h.closed = true
	return true
}

// Status is a snapshot of the manager for health reporting.
type Status struct {
	State     State
	HandleID  uint64
	CreatedAt time.Time
	Driver    string
	Target    string
}

// PoolManager holds at most one live pool and recreates it on demand.
type PoolManager struct {
	connector db.Connector
	startup   retry.Policy

	mu         sync.RWMutex
	current    *Handle
	connecting int
	closed     bool

	nextID atomic.Uint64
}

// NewPoolManager creates a manager in NO_POOL. No connection is attempted
// until StartupConnect, ConnectWithRetry or Acquire is called.
func NewPoolManager(connector db.Connector, startup retry.Policy) *PoolManager {
	m := &PoolManager{
		connector: connector,
		startup:   startup,
	}
	metrics.PoolState.Set(float64(StateNoPool))
	return m
}

// StartupPolicy returns the startup retry budget of cfg.
func StartupPolicy(cfg config.DatabaseConfig) (retry.Policy, error) {
	delay, err := cfg.GetConnectRetryDelay()
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{MaxAttempts: cfg.ConnectRetries, Delay: delay}, nil
}

// StartupConnect runs ConnectWithRetry with the configured startup budget.
func (m *PoolManager) StartupConnect(ctx context.Context) (*Handle, error) {
	return m.ConnectWithRetry(ctx, m.startup.MaxAttempts, m.startup.Delay)
}

// ConnectWithRetry makes up to maxAttempts connection attempts, sleeping
// delay between failures. On exhaustion it logs a warning and returns an
// error wrapping ErrUnavailable; the manager is left in NO_POOL and later
// calls to Acquire will try again. The returned handle carries no borrow
// and must not be released.
func (m *PoolManager) ConnectWithRetry(ctx context.Context, maxAttempts int, delay time.Duration) (*Handle, error) {
	logger.Info("Connecting to database", "component", "POOL", "target", m.connector.Describe(),
		"max_attempts", maxAttempts, "delay", delay)

	var h *Handle
	err := retry.Do(ctx, retry.Policy{MaxAttempts: maxAttempts, Delay: delay}, func(attempt int) error {
		if ready := m.ready(); ready != nil {
			h = ready
			return nil
		}
		var err error
		h, err = m.connect(ctx, pathStartup, false)
		if err == nil {
			return nil
		}
		logger.Warn("Database connection attempt failed", "component", "POOL",
			"attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if errors.Is(err, db.ErrInvalidConfig) || errors.Is(err, consts.ErrManagerClosed) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		logger.Warn("Giving up on database connection, serving without a pool", "component", "POOL",
			"target", m.connector.Describe(), "error", err)
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	return h, nil
}

// Acquire returns the READY handle without touching the backend. With no
// live handle it makes exactly one connection attempt. Concurrent callers
// racing through the slow path all receive the same handle. The caller must
// Release the handle once its query is done.
func (m *PoolManager) Acquire(ctx context.Context) (*Handle, error) {
	if h := m.borrowReady(); h != nil {
		return h, nil
	}

	h, err := m.connect(context.WithoutCancel(ctx), pathOnDemand, true)
	if err != nil {
		if !errors.Is(err, consts.ErrManagerClosed) {
			logger.WarnContext(ctx, "On-demand database connection failed", "component", "POOL", "error", err)
		}
		return nil, err
	}
	return h, nil
}

func (m *PoolManager) ready() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readyLocked()
}

func (m *PoolManager) readyLocked() *Handle {
	if m.closed || m.current == nil || m.current.broken.Load() {
		return nil
	}
	return m.current
}

// borrowReady returns the READY handle with a borrow taken. The borrow is
// taken under the manager lock so that invalidate cannot retire the handle
// in between.
func (m *PoolManager) borrowReady() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.readyLocked()
	if h != nil {
		h.borrow()
	}
	return h
}

// connect performs one connection attempt and installs the result unless
// another attempt won the race or the new pool failed before installation.
// With borrow set the returned handle carries a borrow for the caller.
func (m *PoolManager) connect(ctx context.Context, path string, borrow bool) (*Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	m.connecting++
	m.refreshStateLocked()
	m.mu.Unlock()

	h := &Handle{id: m.nextID.Add(1)}
	start := time.Now()
	pool, err := m.connector.Connect(ctx, func(err error) {
		m.invalidate(h, err)
	})
	metrics.PoolConnectDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	m.connecting--
	if err != nil {
		m.refreshStateLocked()
		m.mu.Unlock()
		metrics.PoolConnectAttempts.WithLabelValues(path, "failure").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	result, redundant := h, false
	var resErr error
	switch {
	case m.closed:
		result, resErr = nil, errClosed
		redundant = true
	case h.broken.Load():
		result, resErr = nil, fmt.Errorf("%w: pool failed before it was installed", ErrUnavailable)
		redundant = true
	case m.current != nil:
		result = m.current
		redundant = true
	default:
		h.pool = pool
		h.createdAt = time.Now()
		m.current = h
	}
	if borrow && result != nil {
		result.borrow()
	}
	m.refreshStateLocked()
	m.mu.Unlock()

	if redundant {
		metrics.PoolConnectAttempts.WithLabelValues(path, "discarded").Inc()
		pool.Close()
		return result, resErr
	}

	metrics.PoolConnectAttempts.WithLabelValues(path, "success").Inc()
	logger.Info("Database pool ready", "component", "POOL", "handle", h.id, "path", path,
		"duration", time.Since(start))
	return h, nil
}

// invalidate is the error callback of the pool behind h. It runs on the
// goroutine that detected the failure.
func (m *PoolManager) invalidate(h *Handle, err error) {
	m.mu.Lock()
	h.broken.Store(true)
	if m.current != h {
		m.mu.Unlock()
		return
	}
	m.current = nil
	metrics.PoolState.Set(float64(StateBroken))
	m.refreshStateLocked()
	m.mu.Unlock()

	metrics.PoolInvalidations.WithLabelValues(db.ReasonOf(err)).Inc()
	logger.Warn("Database pool invalidated, next request reconnects", "component", "POOL",
		"handle", h.id, "reason", db.ReasonOf(err), "error", err)

	// invalidate may run inside the pool's own error callback, which
	// Close waits for, so the close happens on another goroutine.
	if h.retire() {
		go h.pool.Close()
	}
}

func (m *PoolManager) stateLocked() State {
	switch {
	case m.closed:
		return StateNoPool
	case m.current != nil:
		return StateReady
	case m.connecting > 0:
		return StateConnecting
	default:
		return StateNoPool
	}
}

func (m *PoolManager) refreshStateLocked() {
	metrics.PoolState.Set(float64(m.stateLocked()))
}

// State returns the current lifecycle state.
func (m *PoolManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// Status returns the state and the identity of the live handle, if any.
func (m *PoolManager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{
		State:  m.stateLocked(),
		Driver: m.connector.Driver(),
		Target: m.connector.Describe(),
	}
	if m.current != nil {
		st.HandleID = m.current.id
		st.CreatedAt = m.current.createdAt
	}
	return st
}

// PoolSnapshot implements metrics.StatsProvider. It never connects.
func (m *PoolManager) PoolSnapshot() (metrics.PoolSnapshot, bool) {
	h := m.ready()
	if h == nil {
		return metrics.PoolSnapshot{}, false
	}
	s := h.pool.Stats()
	return metrics.PoolSnapshot{Total: s.TotalConns, Idle: s.IdleConns, InUse: s.AcquiredConns}, true
}

// Close discards the live pool and makes every later call fail with
// ErrUnavailable. If no request holds the pool it is closed before Close
// returns; otherwise the last Release closes it.
func (m *PoolManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	h := m.current
	m.current = nil
	m.refreshStateLocked()
	m.mu.Unlock()

	if h != nil && h.retire() {
		h.pool.Close()
		logger.Info("Database pool closed", "component", "POOL", "handle", h.id)
	}
}
