package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreLabelledByAccount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PollCount.WithLabelValues("alerts").Inc()
	m.PollCount.WithLabelValues("alerts").Inc()
	m.PollCount.WithLabelValues("archive").Inc()
	m.Uploads.WithLabelValues("alerts", "failure").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PollCount.WithLabelValues("alerts")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollCount.WithLabelValues("archive")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Uploads.WithLabelValues("alerts", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.PollCount))
}

func TestRegistriesAreIndependent(t *testing.T) {
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})

	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration")
}
