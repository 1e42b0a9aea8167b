package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, metrics.Track("stock:import_file").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("stock:import_file").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("stock:import_file", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("stock:import_file", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("stock:import_file")))
}

func TestAddEnqueued(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.AddEnqueued("stock:import_scan", 3)
	metrics.AddEnqueued("stock:import_scan", 0)
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.enqueued.WithLabelValues("stock:import_scan")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	err := errors.New("x")
	require.Equal(t, err, metrics.Track("job").End(err))
	metrics.AddEnqueued("job", 1)
}
