package dicekv

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns,
//     AcquireErrors, DedicatedConns
//   - Histogram: acquire wait (AcquireWaitTimeNs / AcquireWaitCount)
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait for a busy pool
	CreatedConns      uint64 // Pooled connections created
	DestroyedConns    uint64 // Pooled connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting
	DedicatedConns    uint64 // Watch connections opened outside the pool

	TotalConns  int32 // Pooled connections (active + idle)
	IdleConns   int32
	ActiveConns int32
}

// ClientStats contains statistics about client operations.
type ClientStats struct {
	Execs         uint64 // Request/response commands executed
	Watches       uint64 // Watch streams opened
	Errors        uint64 // Calls that returned an error
	Timeouts      uint64 // Errors that were timeouts
	ServerErrors  uint64 // Responses with an ERR status
	ActiveWatches int64  // Watch streams currently open
}

// poolStatsCollector provides internal methods for updating pool stats.
type poolStatsCollector struct {
	stats PoolStats
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{}
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(d time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(d.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordDedicated() {
	atomic.AddUint64(&c.stats.DedicatedConns, 1)
}

// snapshot returns the counters. Gauges are filled in by the pool.
func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
		DedicatedConns:    atomic.LoadUint64(&c.stats.DedicatedConns),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordExec(resp *Response) {
	atomic.AddUint64(&c.stats.Execs, 1)
	if resp != nil && !resp.OK() {
		atomic.AddUint64(&c.stats.ServerErrors, 1)
	}
}

func (c *clientStatsCollector) recordWatchOpened() {
	atomic.AddUint64(&c.stats.Watches, 1)
	atomic.AddInt64(&c.stats.ActiveWatches, 1)
}

func (c *clientStatsCollector) recordWatchEnded() {
	atomic.AddInt64(&c.stats.ActiveWatches, -1)
}

func (c *clientStatsCollector) recordError(err error) {
	atomic.AddUint64(&c.stats.Errors, 1)
	if isTimeout(err) {
		atomic.AddUint64(&c.stats.Timeouts, 1)
	}
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Execs:         atomic.LoadUint64(&c.stats.Execs),
		Watches:       atomic.LoadUint64(&c.stats.Watches),
		Errors:        atomic.LoadUint64(&c.stats.Errors),
		Timeouts:      atomic.LoadUint64(&c.stats.Timeouts),
		ServerErrors:  atomic.LoadUint64(&c.stats.ServerErrors),
		ActiveWatches: atomic.LoadInt64(&c.stats.ActiveWatches),
	}
}
