package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.RecordDryRun(5*time.Millisecond, false)
	c.RecordDryRun(20*time.Millisecond, true)
	c.RecordTrace(200*time.Millisecond, false)
	c.RecordBlockStarted()
	c.RecordBlockStarted()
	c.RecordBlockSealed()
	c.RecordBlockReverted()
	c.RecordRewards(2)

	s := c.Snapshot()
	if s.DryRuns != 2 || s.DryRunFailures != 1 {
		t.Errorf("unexpected dry run counters: %+v", s)
	}
	if s.Traces != 1 || s.TraceFailures != 0 {
		t.Errorf("unexpected trace counters: %+v", s)
	}
	if s.BlocksStarted != 2 || s.BlocksSealed != 1 || s.BlocksReverted != 1 {
		t.Errorf("unexpected block counters: %+v", s)
	}
	if s.RewardsApplied != 2 {
		t.Errorf("expected 2 rewards, got %d", s.RewardsApplied)
	}
	if s.DryRunLatency["<10ms"] != 1 || s.DryRunLatency["10-50ms"] != 1 {
		t.Errorf("unexpected dry run buckets: %v", s.DryRunLatency)
	}
	if s.TraceLatency["100-500ms"] != 1 {
		t.Errorf("unexpected trace buckets: %v", s.TraceLatency)
	}
	if s.AvgDryRunTime <= 0 {
		t.Error("average dry run time not recorded")
	}

	c.Reset()
	s = c.Snapshot()
	if s.DryRuns != 0 || len(s.DryRunLatency) != 0 {
		t.Errorf("reset did not clear counters: %+v", s)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordDryRun(time.Millisecond, false)
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().DryRuns; got != 1000 {
		t.Errorf("expected 1000 dry runs, got %d", got)
	}
}
