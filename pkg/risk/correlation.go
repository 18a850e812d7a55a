package risk

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

const minCorrelationPoints = 3

// Correlations returns the pairwise correlation of every indicator pair, in
// input order. Pairs with at least three timestamp-aligned samples and
// non-zero variance use Pearson correlation; the rest fall back to a
// similarity score between their trend directions.
func (e *Engine) Correlations(indicators []models.RiskIndicator, historical *models.HistoricalData) []models.IndicatorCorrelation {
	if len(indicators) < 2 {
		return nil
	}
	out := make([]models.IndicatorCorrelation, 0, len(indicators)*(len(indicators)-1)/2)
	for i := 0; i < len(indicators); i++ {
		for j := i + 1; j < len(indicators); j++ {
			out = append(out, correlate(indicators[i], indicators[j], historical))
		}
	}
	return out
}

func correlate(a, b models.RiskIndicator, historical *models.HistoricalData) models.IndicatorCorrelation {
	xs, ys := alignSeries(historical.Points(a.Name), historical.Points(b.Name))
	if len(xs) >= minCorrelationPoints && stat.Variance(xs, nil) > 0 && stat.Variance(ys, nil) > 0 {
		return models.IndicatorCorrelation{
			A:           a.Name,
			B:           b.Name,
			Coefficient: stat.Correlation(xs, ys, nil),
			Method:      models.CorrelationPearson,
		}
	}
	return models.IndicatorCorrelation{
		A:           a.Name,
		B:           b.Name,
		Coefficient: TrendSimilarity(a.Trend, b.Trend),
		Method:      models.CorrelationTrendProxy,
	}
}

// alignSeries pairs samples of two metrics taken at the same instant.
func alignSeries(a, b []models.DataPoint) (xs, ys []float64) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	byTime := make(map[time.Time]float64, len(b))
	for _, p := range b {
		byTime[p.Timestamp.UTC()] = p.Value
	}
	for _, p := range a {
		if v, ok := byTime[p.Timestamp.UTC()]; ok {
			xs = append(xs, p.Value)
			ys = append(ys, v)
		}
	}
	return xs, ys
}

// TrendSimilarity scores how alike two trend directions are, in [0,1].
func TrendSimilarity(a, b models.TrendDirection) float64 {
	a, b = normalizeTrend(a), normalizeTrend(b)
	if a == b {
		return 1
	}
	pair := func(x, y models.TrendDirection) bool {
		return (a == x && b == y) || (a == y && b == x)
	}
	switch {
	case pair(models.TrendImproving, models.TrendDeclining):
		return 0
	case pair(models.TrendVolatile, models.TrendDeclining):
		return 0.75
	case pair(models.TrendVolatile, models.TrendImproving):
		return 0.25
	default:
		// stable against anything else
		return 0.5
	}
}

func normalizeTrend(t models.TrendDirection) models.TrendDirection {
	if t == "" {
		return models.TrendStable
	}
	return t
}
