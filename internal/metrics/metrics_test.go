package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsAndRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.ApplyOutcome("FIRST_COME", "WIN")
	m.ApplyOutcome("FIRST_COME", "WIN")
	m.RewardFallback()
	m.DrawCompleted("random", 25, 40*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.applyOutcomes.WithLabelValues("FIRST_COME", "WIN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewardFallbacks))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.drawWinners.WithLabelValues("random")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ApplyOutcome("RAFFLE", "APPLIED_RAFFLE")
	m.LimiterDecision("first_come", "allowed")
	m.Allocation("WON")
	m.DrawCompleted("fifo", 1, time.Second)
	m.RewardPaid("FIXED", 10)
	m.RewardFallback()
	m.ConsumerMessage("apply", "ok")
	m.ScheduledDrawRun("ok")
}
