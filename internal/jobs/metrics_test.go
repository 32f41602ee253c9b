package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("costing_daily_batch").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("costing_daily_batch").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("costing_daily_batch", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("costing_daily_batch", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("costing_daily_batch")))
}

func TestCostingCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.InputSkipped("missing_price")
	m.InputSkipped("missing_price")
	m.ComputationFailed("bom_cycle")

	require.Equal(t, 2.0, testutil.ToFloat64(m.skipped.WithLabelValues("missing_price")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("bom_cycle")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.InputSkipped("x")
	m.ComputationFailed("y")
	require.NoError(t, m.Track("job").End(nil))
}
