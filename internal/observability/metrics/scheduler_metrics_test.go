package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherCounter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range labels {
				if got[k] != v {
					matched = false
					break
				}
			}
			if matched {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not gathered", name, labels)
	return 0
}

// Resetting must unregister every collector from the default registerer,
// otherwise the next singleton build panics on duplicate registration and
// takes the rest of the suite down with it.
func TestSchedulerMetricsResetAllowsRebuild(t *testing.T) {
	ResetSchedulerMetricsForTest()
	t.Cleanup(ResetSchedulerMetricsForTest)

	first := Scheduler()
	first.IncJobRun("rollover")

	ResetSchedulerMetricsForTest()

	var second *SchedulerMetrics
	require.NotPanics(t, func() {
		second = Scheduler()
	})
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	second.IncJobRun("rollover")
	second.IncJobRun("rollover")
	assert.InDelta(t, 2, gatherCounter(t, "portalmeter_scheduler_job_runs_total", map[string]string{"job": "rollover"}), 0.001)
}

func TestSchedulerMetricsCountersCarryIdentityLabels(t *testing.T) {
	ResetSchedulerMetricsForTest()
	t.Cleanup(ResetSchedulerMetricsForTest)

	m := SchedulerWithConfig(Config{ServiceName: "enforcer", Environment: "test"})
	m.IncUserBlocked("tenant-1")

	value := gatherCounter(t, "portalmeter_users_blocked_total", map[string]string{
		"tenant":  "tenant-1",
		"service": "enforcer",
		"env":     "test",
	})
	assert.InDelta(t, 1, value, 0.001)
}

func TestHTTPMetricsResetAllowsRebuild(t *testing.T) {
	ResetHTTPMetricsForTest()
	t.Cleanup(ResetHTTPMetricsForTest)

	first := HTTP()
	first.inflight.Inc()

	ResetHTTPMetricsForTest()

	var second *HTTPMetrics
	require.NotPanics(t, func() {
		second = HTTP()
	})
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var inflight *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "portalmeter_http_requests_inflight" {
			inflight = mf
		}
	}
	require.NotNil(t, inflight)
	require.Len(t, inflight.GetMetric(), 1)
	assert.InDelta(t, 0, inflight.GetMetric()[0].GetGauge().GetValue(), 0.001)
}
