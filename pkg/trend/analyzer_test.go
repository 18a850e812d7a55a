package trend

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

var start = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func series(values ...float64) []models.DataPoint {
	out := make([]models.DataPoint, len(values))
	for i, v := range values {
		out[i] = models.DataPoint{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour), Value: v}
	}
	return out
}

func history(metrics map[string][]models.DataPoint) *models.HistoricalData {
	return &models.HistoricalData{
		TimeRange: models.TimeRange{Start: start, End: start.Add(30 * 24 * time.Hour)},
		Metrics:   metrics,
	}
}

func TestAnalyze_LinearSeries(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	res := a.Analyze(context.Background(), history(map[string][]models.DataPoint{
		"throughput": series(10, 12, 14, 16, 18),
	}))

	require.Len(t, res.Trends, 1)
	tr := res.Trends[0]
	assert.Equal(t, "throughput", tr.Metric)
	assert.InDelta(t, 2.0, tr.Slope, 1e-9)
	assert.InDelta(t, 10.0, tr.Intercept, 1e-9)
	assert.Equal(t, models.TrendImproving, tr.Direction)
	assert.Equal(t, 1.0, tr.Strength)
	assert.Equal(t, models.StrengthStrong, tr.StrengthClass)
	assert.Equal(t, 1.0, tr.Significance)
	assert.Equal(t, models.Days(4), tr.Duration)

	require.Len(t, res.Forecasts, 1)
	f := res.Forecasts[0]
	sigma := math.Sqrt(10)
	assert.InDelta(t, 28.0, f.PredictedValue, 1e-9)
	assert.InDelta(t, 28-sigma, f.LowerBound, 1e-9)
	assert.InDelta(t, 28+sigma, f.UpperBound, 1e-9)
	assert.InDelta(t, 1-sigma/28, f.Confidence, 1e-9)
	assert.Equal(t, 7, f.Horizon)

	require.Len(t, res.Recommendations, 1)
	assert.Contains(t, res.Recommendations[0], "throughput")
	assert.Equal(t, 0.95, res.Confidence)
}

func TestAnalyze_DecliningWeakTrend(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	res := a.Analyze(context.Background(), history(map[string][]models.DataPoint{
		"velocity": series(10, 9.8, 9.6, 9.4, 9.2),
	}))

	require.Len(t, res.Trends, 1)
	tr := res.Trends[0]
	assert.Equal(t, models.TrendDeclining, tr.Direction)
	assert.InDelta(t, 0.2, tr.Strength, 1e-9)
	assert.Equal(t, models.StrengthWeak, tr.StrengthClass)
	assert.InDelta(t, 0.4, tr.Significance, 1e-9)
	assert.Empty(t, res.Recommendations)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Len(t, Declining(res), 1)
}

func TestAnalyze_InsignificantAndShortSeries(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	res := a.Analyze(context.Background(), history(map[string][]models.DataPoint{
		"flat":  series(5, 5, 5, 5),
		"short": series(1, 9),
		"zero":  series(0, 0, 0),
	}))

	assert.Empty(t, res.Trends)
	assert.Empty(t, Declining(res))
	require.Len(t, res.Forecasts, 2)
	assert.Equal(t, "flat", res.Forecasts[0].Metric)
	assert.Equal(t, 1.0, res.Forecasts[0].Confidence)
	assert.Equal(t, "zero", res.Forecasts[1].Metric)
	assert.Equal(t, 0.5, res.Forecasts[1].Confidence)
	assert.Equal(t, 0.1, res.Confidence)
}

func TestAnalyze_SortedAndUnorderedInput(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	shuffled := series(10, 12, 14, 16, 18)
	shuffled[0], shuffled[4] = shuffled[4], shuffled[0]

	res := a.Analyze(context.Background(), history(map[string][]models.DataPoint{
		"b_metric": shuffled,
		"a_metric": series(18, 16, 14, 12, 10),
	}))

	require.Len(t, res.Trends, 2)
	assert.Equal(t, "a_metric", res.Trends[0].Metric)
	assert.Equal(t, models.TrendDeclining, res.Trends[0].Direction)
	assert.Equal(t, "b_metric", res.Trends[1].Metric)
	assert.InDelta(t, 2.0, res.Trends[1].Slope, 1e-9)
}

func TestAnalyze_NilHistory(t *testing.T) {
	res := NewAnalyzer(Config{}, nil).Analyze(context.Background(), nil)
	assert.Empty(t, res.Trends)
	assert.Empty(t, res.Forecasts)
	assert.Equal(t, 0.1, res.Confidence)
}

func TestFitSeries(t *testing.T) {
	fit := FitSeries([]float64{3, 5, 7})
	assert.InDelta(t, 2.0, fit.Slope, 1e-12)
	assert.InDelta(t, 3.0, fit.Intercept, 1e-12)
	assert.InDelta(t, 9.0, fit.At(3), 1e-12)
	assert.Equal(t, 3, fit.N)
}
