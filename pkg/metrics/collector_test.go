package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	snap  PoolSnapshot
	live  atomic.Bool
	calls atomic.Int32
}

func (s *stubProvider) PoolSnapshot() (PoolSnapshot, bool) {
	s.calls.Add(1)
	return s.snap, s.live.Load()
}

func TestCollectorCopiesLivePoolStats(t *testing.T) {
	provider := &stubProvider{snap: PoolSnapshot{Total: 4, Idle: 3, InUse: 1}}
	provider.live.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	collector := NewCollector(provider, 50*time.Millisecond)
	collector.Start(ctx)

	assert.GreaterOrEqual(t, provider.calls.Load(), int32(2))
	assert.Equal(t, 4.0, testutil.ToFloat64(DBPoolTotalConns))
	assert.Equal(t, 3.0, testutil.ToFloat64(DBPoolIdleConns))
	assert.Equal(t, 1.0, testutil.ToFloat64(DBPoolInUseConns))
}

func TestCollectorZeroesWithoutPool(t *testing.T) {
	DBPoolTotalConns.Set(9)
	provider := &stubProvider{snap: PoolSnapshot{Total: 7}}

	collector := NewCollector(provider, time.Hour)
	done := make(chan struct{})
	go func() {
		collector.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(DBPoolTotalConns) == 0
	}, time.Second, 10*time.Millisecond)

	collector.Stop()
	<-done
}

func TestDefaultInterval(t *testing.T) {
	c := NewCollector(&stubProvider{}, 0)
	assert.Equal(t, 15*time.Second, c.interval)
}
