// Package risk turns weighted risk indicators into risk probabilities,
// confidence levels, dynamic thresholds and Monte Carlo estimates.
package risk

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// Config holds risk engine configuration.
type Config struct {
	// ExpectedSampleInterval is the cadence at which indicators are expected
	// to be sampled. It drives the data-quality part of the confidence.
	ExpectedSampleInterval time.Duration
	// MinThresholdSamples is the series length needed for statistical thresholds.
	MinThresholdSamples int
}

// DefaultConfig returns the default risk engine configuration.
func DefaultConfig() Config {
	return Config{
		ExpectedSampleInterval: 24 * time.Hour,
		MinThresholdSamples:    10,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to stamp assessments.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine assesses risk indicators. It is stateless and safe for concurrent use.
type Engine struct {
	log *logger.Logger
	cfg Config
	now func() time.Time
}

// NewEngine creates a risk engine. Zero-valued config fields take defaults.
func NewEngine(cfg Config, log *logger.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.ExpectedSampleInterval <= 0 {
		cfg.ExpectedSampleInterval = def.ExpectedSampleInterval
	}
	if cfg.MinThresholdSamples <= 0 {
		cfg.MinThresholdSamples = def.MinThresholdSamples
	}
	if log == nil {
		log = logger.Nop()
	}

	e := &Engine{
		log: log.WithComponent("risk-engine"),
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deviation returns |current-threshold|/|threshold|, or 0 for a zero threshold.
func Deviation(ind models.RiskIndicator) float64 {
	if ind.Threshold == 0 {
		return 0
	}
	return math.Abs(ind.CurrentValue-ind.Threshold) / math.Abs(ind.Threshold)
}

// IndicatorRisk returns deviation^1.5 scaled by the trend multiplier and the
// indicator weight, clamped to [0,1].
func IndicatorRisk(ind models.RiskIndicator) float64 {
	dev := Deviation(ind)
	if dev == 0 {
		return 0
	}
	return models.Clamp01(math.Pow(dev, 1.5) * ind.Trend.RiskMultiplier() * models.Clamp01(ind.Weight))
}

// AggregateRisk returns the weight-normalized mean of the indicator risks.
func AggregateRisk(indicators []models.RiskIndicator) float64 {
	var num, den float64
	for _, ind := range indicators {
		w := models.Clamp01(ind.Weight)
		num += w * IndicatorRisk(ind)
		den += w
	}
	if den == 0 {
		return 0
	}
	return models.Clamp01(num / den)
}

// CompoundRisk returns the probability that at least one indicator
// materializes, 1-Π(1-r). It assumes the indicators are independent;
// correlated indicators make this an overestimate.
func CompoundRisk(indicators []models.RiskIndicator) float64 {
	survive := 1.0
	for _, ind := range indicators {
		survive *= 1 - IndicatorRisk(ind)
	}
	return models.Clamp01(1 - survive)
}

// Assess computes a full risk assessment. historical may be nil.
func (e *Engine) Assess(ctx context.Context, indicators []models.RiskIndicator, historical *models.HistoricalData) models.RiskAssessment {
	factors := make([]models.RiskFactor, 0, len(indicators))
	for _, ind := range indicators {
		factors = append(factors, models.RiskFactor{
			Name:        ind.Name,
			Description: describe(ind),
			Risk:        IndicatorRisk(ind),
			Deviation:   Deviation(ind),
			Weight:      models.Clamp01(ind.Weight),
			Trend:       ind.Trend,
		})
	}
	slices.SortStableFunc(factors, func(a, b models.RiskFactor) int {
		switch {
		case a.Risk > b.Risk:
			return -1
		case a.Risk < b.Risk:
			return 1
		default:
			return 0
		}
	})

	overall := AggregateRisk(indicators)

	thresholds := make([]models.DynamicThreshold, 0, len(indicators))
	for _, ind := range indicators {
		thresholds = append(thresholds, e.DynamicThresholds(ind, historical.Series(ind.Name)))
	}

	assessment := models.RiskAssessment{
		OverallRisk:     overall,
		Level:           models.SeverityFromScore(overall),
		CompoundRisk:    CompoundRisk(indicators),
		RiskFactors:     factors,
		Recommendations: recommendations(overall, factors),
		ConfidenceLevel: e.confidence(indicators, historical),
		Thresholds:      thresholds,
		AssessedAt:      e.now(),
	}

	e.log.DebugContext(ctx, "risk assessed",
		"indicators", len(indicators),
		"overall_risk", assessment.OverallRisk,
		"compound_risk", assessment.CompoundRisk,
		"confidence", assessment.ConfidenceLevel,
	)
	return assessment
}

// confidence grows with the number of indicators and, when history is
// present, with how densely the indicators were sampled.
func (e *Engine) confidence(indicators []models.RiskIndicator, historical *models.HistoricalData) float64 {
	n := float64(len(indicators))
	c := 0.3 + 0.6*(1-math.Exp(-n/5))
	if historical != nil && len(indicators) > 0 {
		c *= 0.5 + 0.5*e.dataQuality(indicators, historical)
	}
	return models.Clamp01(c)
}

// dataQuality is the mean over indicators of min(1, samples/expected).
func (e *Engine) dataQuality(indicators []models.RiskIndicator, historical *models.HistoricalData) float64 {
	expected := float64(historical.TimeRange.Span()) / float64(e.cfg.ExpectedSampleInterval)
	expected = math.Max(1, expected)

	var sum float64
	for _, ind := range indicators {
		sum += math.Min(1, float64(len(historical.Metrics[ind.Name]))/expected)
	}
	return sum / float64(len(indicators))
}

func describe(ind models.RiskIndicator) string {
	trend := ind.Trend
	if trend == "" {
		trend = models.TrendStable
	}
	return fmt.Sprintf("%s at %.2f against threshold %.2f (%s)", ind.Name, ind.CurrentValue, ind.Threshold, trend)
}

func recommendations(overall float64, factors []models.RiskFactor) []string {
	var recs []string
	switch {
	case overall > 0.8:
		recs = append(recs, "Critical risk level: immediate intervention required on the leading risk factors")
	case overall > 0.6:
		recs = append(recs, "High risk level: prioritize mitigation plans for the top risk factors")
	case overall > 0.4:
		recs = append(recs, "Moderate risk level: monitor closely and prepare contingency plans")
	default:
		recs = append(recs, "Risk within acceptable bounds: continue regular monitoring")
	}
	for _, f := range factors {
		if f.Risk > 0.7 {
			recs = append(recs, fmt.Sprintf("Address %s: deviation of %.0f%% from threshold with %s trend", f.Name, f.Deviation*100, f.Trend))
		}
	}
	return recs
}
