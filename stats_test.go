package dicekv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pior/dicekv/internal/testutils"
	"github.com/pior/dicekv/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector(t *testing.T) {
	c := newPoolStatsCollector()

	c.recordAcquire()
	c.recordAcquire()
	c.recordAcquireWait(3 * time.Millisecond)
	c.recordCreate()
	c.recordDestroy()
	c.recordAcquireError()
	c.recordDedicated()

	stats := c.snapshot()
	assert.EqualValues(t, 2, stats.AcquireCount)
	assert.EqualValues(t, 1, stats.AcquireWaitCount)
	assert.EqualValues(t, 3*time.Millisecond, stats.AcquireWaitTimeNs)
	assert.EqualValues(t, 1, stats.CreatedConns)
	assert.EqualValues(t, 1, stats.DestroyedConns)
	assert.EqualValues(t, 1, stats.AcquireErrors)
	assert.EqualValues(t, 1, stats.DedicatedConns)
	assert.Zero(t, stats.TotalConns, "gauges are filled in by the pool")
}

func TestPoolStatsCollector_Concurrent(t *testing.T) {
	c := newPoolStatsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.recordAcquire()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1000, c.snapshot().AcquireCount)
}

func TestClientStatsCollector(t *testing.T) {
	c := newClientStatsCollector()

	c.recordExec(&Response{Status: wire.StatusOK})
	c.recordExec(&Response{Status: wire.StatusErr})
	c.recordError(&TimeoutError{Op: "query"})
	c.recordError(context.DeadlineExceeded)
	c.recordError(errors.New("boom"))
	c.recordWatchOpened()
	c.recordWatchOpened()
	c.recordWatchEnded()

	stats := c.snapshot()
	assert.EqualValues(t, 2, stats.Execs)
	assert.EqualValues(t, 1, stats.ServerErrors)
	assert.EqualValues(t, 3, stats.Errors)
	assert.EqualValues(t, 2, stats.Timeouts)
	assert.EqualValues(t, 2, stats.Watches)
	assert.EqualValues(t, 1, stats.ActiveWatches)
}

func TestPoolStats_Gauges(t *testing.T) {
	srv := testutils.NewServer(t)
	pool := newTestListPool(t, srv.Addr(), PoolOptions{MaxSize: 3})
	require.NoError(t, pool.Connect(context.Background()))

	a, err := pool.Acquire(context.Background(), AcquireOptions{})
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background(), AcquireOptions{})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.EqualValues(t, 2, stats.TotalConns)
	assert.EqualValues(t, 2, stats.ActiveConns)
	assert.Zero(t, stats.IdleConns)
	assert.EqualValues(t, 2, stats.AcquireCount)
	assert.EqualValues(t, 2, stats.CreatedConns)

	a.Unlock()
	b.Unlock()

	stats = pool.Stats()
	assert.EqualValues(t, 2, stats.IdleConns)
	assert.Zero(t, stats.ActiveConns)
}

func TestPoolStats_PuddleGauges(t *testing.T) {
	srv := testutils.NewServer(t)
	pool := newTestPuddlePool(t, srv.Addr(), PoolOptions{MaxSize: 3})
	require.NoError(t, pool.Connect(context.Background()))

	sock, err := pool.Acquire(context.Background(), AcquireOptions{})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.EqualValues(t, 1, stats.TotalConns)
	assert.EqualValues(t, 1, stats.ActiveConns)
	assert.EqualValues(t, 1, stats.AcquireCount)

	sock.Unlock()

	stats = pool.Stats()
	assert.EqualValues(t, 1, stats.IdleConns)
	assert.Zero(t, stats.ActiveConns)
}
