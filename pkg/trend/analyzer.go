// Package trend fits linear trends to historical metric series and projects
// them forward.
package trend

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// Config holds analyzer configuration.
type Config struct {
	// MinPoints is the shortest series that is fitted.
	MinPoints int
	// SignificanceSlope is the |slope| above which a trend is reported.
	SignificanceSlope float64
	// ForecastHorizon is how many steps past the centre of the window the
	// fitted line is evaluated.
	ForecastHorizon int
	// RecommendationThreshold is the significance above which a trend yields a recommendation.
	RecommendationThreshold float64
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MinPoints:               3,
		SignificanceSlope:       0.05,
		ForecastHorizon:         7,
		RecommendationThreshold: 0.7,
	}
}

// Analyzer detects trends. It is stateless and safe for concurrent use.
type Analyzer struct {
	log *logger.Logger
	cfg Config
}

// NewAnalyzer creates a trend analyzer. Zero-valued config fields take defaults.
func NewAnalyzer(cfg Config, log *logger.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.MinPoints < 2 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.SignificanceSlope <= 0 {
		cfg.SignificanceSlope = def.SignificanceSlope
	}
	if cfg.ForecastHorizon <= 0 {
		cfg.ForecastHorizon = def.ForecastHorizon
	}
	if cfg.RecommendationThreshold <= 0 {
		cfg.RecommendationThreshold = def.RecommendationThreshold
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{log: log.WithComponent("trend-analyzer"), cfg: cfg}
}

// Fit is an ordinary least-squares line over x = 0..n-1.
type Fit struct {
	Slope     float64
	Intercept float64
	StdDev    float64
	N         int
}

// FitSeries fits a line to the values in order.
func FitSeries(values []float64) Fit {
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	intercept, slope := stat.LinearRegression(xs, values, nil, false)
	return Fit{
		Slope:     slope,
		Intercept: intercept,
		StdDev:    stat.StdDev(values, nil),
		N:         len(values),
	}
}

// At evaluates the fitted line at x.
func (f Fit) At(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// Analyze fits every metric with enough points, in sorted name order.
// historical may be nil.
func (a *Analyzer) Analyze(ctx context.Context, historical *models.HistoricalData) models.TrendAnalysisResult {
	result := models.TrendAnalysisResult{
		Trends:          []models.MetricTrend{},
		Forecasts:       []models.Forecast{},
		Recommendations: []string{},
	}

	for _, name := range historical.MetricNames() {
		points := historical.Points(name)
		if len(points) < a.cfg.MinPoints {
			continue
		}
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.Value
		}
		fit := FitSeries(values)
		if math.IsNaN(fit.Slope) || math.IsInf(fit.Slope, 0) {
			a.log.WarnContext(ctx, "skipping metric with non-finite fit", "metric", name)
			continue
		}

		forecast := a.forecast(name, fit)
		result.Forecasts = append(result.Forecasts, forecast)

		if math.Abs(fit.Slope) <= a.cfg.SignificanceSlope {
			continue
		}
		mt := metricTrend(name, fit, points)
		result.Trends = append(result.Trends, mt)

		if mt.Significance > a.cfg.RecommendationThreshold {
			result.Recommendations = append(result.Recommendations, recommend(mt, forecast))
		}
	}

	result.Confidence = overallConfidence(result.Trends)

	a.log.DebugContext(ctx, "trend analysis complete",
		"metrics", len(result.Forecasts),
		"significant_trends", len(result.Trends),
		"confidence", result.Confidence,
	)
	return result
}

func metricTrend(name string, fit Fit, points []models.DataPoint) models.MetricTrend {
	direction := models.TrendDeclining
	if fit.Slope > 0 {
		direction = models.TrendImproving
	}
	strength := math.Min(1, math.Abs(fit.Slope))
	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp)

	return models.MetricTrend{
		Metric:        name,
		Direction:     direction,
		Strength:      strength,
		StrengthClass: models.ClassifyStrength(strength),
		Duration:      models.Days(span.Hours() / 24),
		Significance:  math.Min(1, 2*math.Abs(fit.Slope)),
		Slope:         fit.Slope,
		Intercept:     fit.Intercept,
	}
}

// forecast evaluates the fit ForecastHorizon steps past the centre of the window.
func (a *Analyzer) forecast(name string, fit Fit) models.Forecast {
	centre := float64(fit.N-1) / 2
	predicted := fit.At(centre + float64(a.cfg.ForecastHorizon))

	confidence := 0.5
	if predicted != 0 {
		confidence = math.Max(0.5, 1-fit.StdDev/math.Abs(predicted))
	}

	return models.Forecast{
		Metric:         name,
		PredictedValue: predicted,
		Confidence:     models.Clamp01(confidence),
		LowerBound:     predicted - fit.StdDev,
		UpperBound:     predicted + fit.StdDev,
		Horizon:        a.cfg.ForecastHorizon,
	}
}

func recommend(mt models.MetricTrend, f models.Forecast) string {
	if mt.Direction == models.TrendImproving {
		return fmt.Sprintf("Sustain the %s trend in %s: projected to reach %.2f within %d periods",
			mt.StrengthClass, mt.Metric, f.PredictedValue, f.Horizon)
	}
	return fmt.Sprintf("Investigate the %s decline in %s: projected to reach %.2f within %d periods without intervention",
		mt.StrengthClass, mt.Metric, f.PredictedValue, f.Horizon)
}

func overallConfidence(trends []models.MetricTrend) float64 {
	if len(trends) == 0 {
		return 0.1
	}
	sig := make([]float64, len(trends))
	for i, t := range trends {
		sig[i] = t.Significance
	}
	return math.Min(0.95, stat.Mean(sig, nil)+0.1)
}

// Declining returns the significant declining trends of a result.
func Declining(result models.TrendAnalysisResult) []models.MetricTrend {
	var out []models.MetricTrend
	for _, t := range result.Trends {
		if t.Direction == models.TrendDeclining {
			out = append(out, t)
		}
	}
	return out
}
