package metrics

import (
	"context"
	"time"

	"github.com/lememe/leme/logger"
)

// PoolSnapshot is a point-in-time view of the connections of the live pool.
type PoolSnapshot struct {
	Total int
	Idle  int
	InUse int
}

// StatsProvider returns the stats of the live pool, or false when there is none.
// Implementations must not try to connect.
type StatsProvider interface {
	PoolSnapshot() (PoolSnapshot, bool)
}

// Collector periodically copies pool stats into the pool gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the collection loop until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Info("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap, ok := c.provider.PoolSnapshot()
	if !ok {
		snap = PoolSnapshot{}
	}
	DBPoolTotalConns.Set(float64(snap.Total))
	DBPoolIdleConns.Set(float64(snap.Idle))
	DBPoolInUseConns.Set(float64(snap.InUse))
}
