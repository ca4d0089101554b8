package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forkstate"

// Register exposes the collector's counters on reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(atomic.LoadInt64(v))
		})
	}
	gauge := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      name,
			Help:      help,
		}, value)
	}

	collectors := []prometheus.Collector{
		counter("dry_runs_total", "Dry runs executed.", &c.dryRuns),
		counter("dry_run_failures_total", "Dry runs that returned an error.", &c.dryRunFailures),
		counter("traces_total", "Transactions and calls traced.", &c.traces),
		counter("trace_failures_total", "Traces that returned an error.", &c.traceFailures),
		counter("blocks_started_total", "Blocks started.", &c.blocksStarted),
		counter("blocks_sealed_total", "Blocks sealed.", &c.blocksSealed),
		counter("blocks_reverted_total", "Blocks reverted.", &c.blocksReverted),
		counter("rewards_applied_total", "Block rewards credited.", &c.rewardsApplied),
		gauge("dry_run_avg_seconds", "Average dry run duration.", func() float64 {
			return c.Snapshot().AvgDryRunTime.Seconds()
		}),
		gauge("trace_avg_seconds", "Average trace duration.", func() float64 {
			return c.Snapshot().AvgTraceTime.Seconds()
		}),
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}
