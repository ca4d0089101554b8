package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	c.RecordDryRun(time.Millisecond, false)
	c.RecordDryRun(time.Millisecond, true)
	c.RecordBlockSealed()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if m.GetCounter() != nil {
				values[family.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), values["forkstate_adapter_dry_runs_total"])
	assert.Equal(t, float64(1), values["forkstate_adapter_dry_run_failures_total"])
	assert.Equal(t, float64(1), values["forkstate_adapter_blocks_sealed_total"])
	assert.Len(t, families, 10)

	assert.Error(t, c.Register(reg))
}
