package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers adapter activity counters and latencies
type Collector struct {
	mu sync.RWMutex

	// Operation counters
	dryRuns        int64
	dryRunFailures int64
	traces         int64
	traceFailures  int64
	blocksStarted  int64
	blocksSealed   int64
	blocksReverted int64
	rewardsApplied int64

	// Timing metrics
	avgDryRunTime time.Duration
	avgTraceTime  time.Duration

	dryRunLatencyBuckets map[string]int64
	traceLatencyBuckets  map[string]int64

	startTime     time.Time
	lastResetTime time.Time
}

// Snapshot is a point-in-time copy of the collected metrics
type Snapshot struct {
	DryRuns        int64 `json:"dryRuns"`
	DryRunFailures int64 `json:"dryRunFailures"`
	Traces         int64 `json:"traces"`
	TraceFailures  int64 `json:"traceFailures"`
	BlocksStarted  int64 `json:"blocksStarted"`
	BlocksSealed   int64 `json:"blocksSealed"`
	BlocksReverted int64 `json:"blocksReverted"`
	RewardsApplied int64 `json:"rewardsApplied"`

	AvgDryRunTime time.Duration `json:"avgDryRunTime"`
	AvgTraceTime  time.Duration `json:"avgTraceTime"`

	DryRunLatency map[string]int64 `json:"dryRunLatency"`
	TraceLatency  map[string]int64 `json:"traceLatency"`

	Uptime         time.Duration `json:"uptime"`
	SinceLastReset time.Duration `json:"sinceLastReset"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		dryRunLatencyBuckets: make(map[string]int64),
		traceLatencyBuckets:  make(map[string]int64),
		startTime:            now,
		lastResetTime:        now,
	}
}

// RecordDryRun records a dry run. failed is true when the call returned an
// error, not when the transaction reverted.
func (c *Collector) RecordDryRun(duration time.Duration, failed bool) {
	atomic.AddInt64(&c.dryRuns, 1)
	if failed {
		atomic.AddInt64(&c.dryRunFailures, 1)
	}
	c.updateAverageTime(&c.avgDryRunTime, duration)
	c.updateLatencyBucket(c.dryRunLatencyBuckets, duration)
}

// RecordTrace records a transaction trace
func (c *Collector) RecordTrace(duration time.Duration, failed bool) {
	atomic.AddInt64(&c.traces, 1)
	if failed {
		atomic.AddInt64(&c.traceFailures, 1)
	}
	c.updateAverageTime(&c.avgTraceTime, duration)
	c.updateLatencyBucket(c.traceLatencyBuckets, duration)
}

func (c *Collector) RecordBlockStarted() { atomic.AddInt64(&c.blocksStarted, 1) }

func (c *Collector) RecordBlockSealed() { atomic.AddInt64(&c.blocksSealed, 1) }

func (c *Collector) RecordBlockReverted() { atomic.AddInt64(&c.blocksReverted, 1) }

func (c *Collector) RecordRewards(n int) { atomic.AddInt64(&c.rewardsApplied, int64(n)) }

func (c *Collector) updateAverageTime(avg *time.Duration, newDuration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Exponential moving average with alpha=0.1
	if *avg == 0 {
		*avg = newDuration
		return
	}
	*avg = time.Duration(float64(*avg)*0.9 + float64(newDuration)*0.1)
}

func (c *Collector) updateLatencyBucket(buckets map[string]int64, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := duration.Milliseconds()
	var bucket string

	switch {
	case ms < 10:
		bucket = "<10ms"
	case ms < 50:
		bucket = "10-50ms"
	case ms < 100:
		bucket = "50-100ms"
	case ms < 500:
		bucket = "100-500ms"
	case ms < 1000:
		bucket = "500ms-1s"
	case ms < 5000:
		bucket = "1-5s"
	default:
		bucket = ">5s"
	}

	buckets[bucket]++
}

func copyBuckets(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Snapshot returns the current metrics
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	return &Snapshot{
		DryRuns:        atomic.LoadInt64(&c.dryRuns),
		DryRunFailures: atomic.LoadInt64(&c.dryRunFailures),
		Traces:         atomic.LoadInt64(&c.traces),
		TraceFailures:  atomic.LoadInt64(&c.traceFailures),
		BlocksStarted:  atomic.LoadInt64(&c.blocksStarted),
		BlocksSealed:   atomic.LoadInt64(&c.blocksSealed),
		BlocksReverted: atomic.LoadInt64(&c.blocksReverted),
		RewardsApplied: atomic.LoadInt64(&c.rewardsApplied),
		AvgDryRunTime:  c.avgDryRunTime,
		AvgTraceTime:   c.avgTraceTime,
		DryRunLatency:  copyBuckets(c.dryRunLatencyBuckets),
		TraceLatency:   copyBuckets(c.traceLatencyBuckets),
		Uptime:         now.Sub(c.startTime),
		SinceLastReset: now.Sub(c.lastResetTime),
	}
}

// Reset zeroes every counter
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.dryRuns, 0)
	atomic.StoreInt64(&c.dryRunFailures, 0)
	atomic.StoreInt64(&c.traces, 0)
	atomic.StoreInt64(&c.traceFailures, 0)
	atomic.StoreInt64(&c.blocksStarted, 0)
	atomic.StoreInt64(&c.blocksSealed, 0)
	atomic.StoreInt64(&c.blocksReverted, 0)
	atomic.StoreInt64(&c.rewardsApplied, 0)
	c.avgDryRunTime = 0
	c.avgTraceTime = 0
	c.dryRunLatencyBuckets = make(map[string]int64)
	c.traceLatencyBuckets = make(map[string]int64)
	c.lastResetTime = time.Now()
}
