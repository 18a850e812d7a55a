package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("score", time.Now(), nil)
	m.ObserveOperation("score", time.Now(), nil)
	m.ObserveOperation("assess", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("score", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("assess", OutcomeError)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.OperationDuration))
}

func TestRecordAlertsAndEscalations(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAlerts([]models.Alert{
		{Type: models.AlertTypeVelocityDrop, Severity: models.SeverityHigh},
		{Type: models.AlertTypeVelocityDrop, Severity: models.SeverityHigh},
		{Type: models.AlertTypeRiskThreshold, Severity: models.SeverityCritical},
	})
	m.RecordEscalations(2)
	m.RecordEscalations(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("velocity_drop", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("risk_threshold", "critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EscalationsTotal))
}

func TestRecordSeverityAndRisk(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSeverity(models.SeverityMedium)
	m.RecordStrategyFailure("comparative")
	m.RecordRisk(0.42)
	m.RecordSnapshot("processed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SeverityTotal.WithLabelValues("medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StrategyFailuresTotal.WithLabelValues("comparative")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("processed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "qlhealth_risk_overall_score")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("score", time.Now(), nil)
		m.RecordSeverity(models.SeverityLow)
		m.RecordStrategyFailure("x")
		m.RecordRisk(1)
		m.RecordAlerts([]models.Alert{{}})
		m.RecordEscalations(1)
		m.RecordSnapshot("failed")
		m.RecordBreakerState("store", 1)
	})
}

func TestRecordBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordBreakerState("kafka", 1)
	m.RecordBreakerState("kafka", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("kafka")))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
