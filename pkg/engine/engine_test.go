package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-health/pkg/config"
	"github.com/quantumlayerhq/ql-health/pkg/metrics"
	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/severity"
)

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	cfg.Risk.MonteCarloSeed = 11
	cfg.Risk.MonteCarloTrials = 200
	m := metrics.New(prometheus.NewRegistry())
	e, err := New(cfg, nil, WithMetrics(m), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return e, m
}

func snapshot() Snapshot {
	gap := models.NewGap(models.GapTypeResource, models.GapCategoryOperational, 115, 100, 0.8)
	gap.ID = "gap-1"
	gap.RootCauses = []models.RootCause{{Description: "attrition"}}
	gap.AffectedAreas = []models.AffectedArea{{Name: "delivery"}}
	gap.EstimatedImpact = models.EstimatedImpact{
		Level:                models.ImpactMedium,
		AffectedStakeholders: []string{"sponsor"},
		Timeframe:            models.TimeframeShortTerm,
	}

	start := now.Add(-5 * 24 * time.Hour)
	points := func(values ...float64) []models.DataPoint {
		out := make([]models.DataPoint, len(values))
		for i, v := range values {
			out[i] = models.DataPoint{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour), Value: v}
		}
		return out
	}

	return Snapshot{
		ProjectID: "proj-42",
		Gaps:      []models.Gap{gap},
		RiskIndicators: []models.RiskIndicator{
			{Name: "velocity_trend", CurrentValue: 15, Threshold: 20, Trend: models.TrendDeclining, Weight: 0.3},
			{Name: "defect_rate", CurrentValue: 30, Threshold: 10, Trend: models.TrendDeclining, Weight: 0.9},
		},
		Historical: &models.HistoricalData{
			TimeRange: models.TimeRange{Start: start, End: now},
			Metrics: map[string][]models.DataPoint{
				"throughput": points(10, 12, 14, 16, 18),
			},
		},
		Trends: models.TrendData{
			VelocityIndicators: []models.VelocityIndicator{{Name: "story_points", Current: 4, HistoricalAverage: 10}},
		},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Severity.Calibration = "magic"
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEvaluate(t *testing.T) {
	e, m := newTestEngine(t)
	report := e.Evaluate(context.Background(), snapshot())

	assert.Equal(t, "proj-42", report.ProjectID)
	assert.Equal(t, now, report.GeneratedAt)

	require.Len(t, report.Severities, 1)
	assert.Equal(t, "gap-1", report.Severities[0].GapID)
	assert.Equal(t, models.SeverityMedium, report.Severities[0].Result.Level)
	assert.Equal(t, models.SeverityMedium, report.HighestSeverity())

	require.Len(t, report.Risk.RiskFactors, 2)
	assert.Equal(t, "defect_rate", report.Risk.RiskFactors[0].Name)
	assert.Equal(t, 1.0, report.Risk.CompoundRisk)
	assert.Equal(t, now, report.Risk.AssessedAt)

	require.NotNil(t, report.Simulation)
	assert.Equal(t, 200, report.Simulation.Trials)
	require.Len(t, report.Correlations, 1)

	require.Len(t, report.Trends.Forecasts, 1)
	assert.InDelta(t, 28.0, report.Trends.Forecasts[0].PredictedValue, 1e-9)

	// velocity critical + defect_rate risk critical + composite
	require.Len(t, report.Alerts, 3)
	for _, a := range report.Alerts {
		assert.Equal(t, models.SeverityCritical, a.Severity)
		assert.Equal(t, now.Add(72*time.Hour), a.ExpiresAt)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(OpEvaluate, metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SeverityTotal.WithLabelValues("medium")))
	for _, typ := range []models.AlertType{models.AlertTypeVelocityDrop, models.AlertTypeRiskThreshold, models.AlertTypeMultipleIssues} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues(string(typ), "critical")), string(typ))
	}
}

func TestEvaluate_MonteCarloDisabled(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Risk.MonteCarloEnabled = false
	e, err := New(cfg, nil)
	require.NoError(t, err)

	report := e.Evaluate(context.Background(), snapshot())
	assert.Nil(t, report.Simulation)
}

func TestEvaluate_CancelledContextDropsSimulation(t *testing.T) {
	e, m := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.Evaluate(ctx, snapshot())
	assert.Nil(t, report.Simulation)
	assert.NotEmpty(t, report.Alerts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(OpSimulate, metrics.OutcomeError)))
}

func TestEscalateAlerts(t *testing.T) {
	e, m := newTestEngine(t)
	snap := snapshot()
	snap.RiskIndicators = []models.RiskIndicator{
		{Name: "budget", CurrentValue: 18, Threshold: 10, Trend: models.TrendStable, Weight: 1},
	}
	snap.Trends = models.TrendData{}
	alerts := e.Evaluate(context.Background(), snap).Alerts
	require.Len(t, alerts, 1)
	require.Equal(t, models.SeverityHigh, alerts[0].Severity)

	later := now.Add(25 * time.Hour)
	out := e.EscalateAlerts(context.Background(), alerts, later)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityCritical, out[0].Severity)
	assert.Equal(t, alerts[0].ID, *out[0].EscalatedFrom)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal))

	// nothing is stale yet
	out = e.EscalateAlerts(context.Background(), alerts, now.Add(time.Hour))
	assert.Equal(t, alerts, out)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal))
}

func TestLeastSquaresCalibrationConfig(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Severity.Calibration = "least_squares"
	e, err := New(cfg, nil)
	require.NoError(t, err)

	history := make([]models.Gap, 12)
	res := e.ScoreGap(context.Background(), snapshot().Gaps[0], severity.WithHistory(history))
	assert.True(t, res.Level.IsValid())
	assert.Len(t, res.Strategies, 3)
}
