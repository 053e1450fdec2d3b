package observability_test

import (
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.RecordEmployee("ok")
	m.RecordEmployee("ok")
	m.RecordEmployee("failed")
	m.RecordRubriqueFailure("cycle")
	m.RecordLines(7)
	m.RecordSettlement("solde")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmployeesComputed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmployeesComputed.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RubriqueFailures.WithLabelValues("cycle")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LinesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues("solde")))
}

func TestMetrics_HistogramsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.ObserveBatch(250 * time.Millisecond)
	m.ObserveHTTP("GET", "/api/lines", "200", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["paie_batch_duration_seconds"])
	assert.True(t, names["paie_http_request_duration_seconds"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordEmployee("ok")
		m.ObserveBatch(time.Second)
		m.SetJobsQueued(3)
	})
}

func TestNewLogger(t *testing.T) {
	logger, err := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = observability.NewLogger(observability.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
