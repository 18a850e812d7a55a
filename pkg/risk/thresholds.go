package risk

import (
	"gonum.org/v1/gonum/stat"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// DynamicThresholds derives warning, critical and emergency levels for an
// indicator. With enough history they sit at one, two and three standard
// deviations above the mean; otherwise they are fixed fractions of the
// indicator's own threshold.
func (e *Engine) DynamicThresholds(ind models.RiskIndicator, series []float64) models.DynamicThreshold {
	if len(series) >= e.cfg.MinThresholdSamples {
		mean, std := stat.MeanStdDev(series, nil)
		return models.DynamicThreshold{
			Indicator: ind.Name,
			Warning:   mean + std,
			Critical:  mean + 2*std,
			Emergency: mean + 3*std,
			Mean:      mean,
			StdDev:    std,
			Samples:   len(series),
			Method:    models.ThresholdStatistical,
		}
	}

	return models.DynamicThreshold{
		Indicator: ind.Name,
		Warning:   0.8 * ind.Threshold,
		Critical:  ind.Threshold,
		Emergency: 1.2 * ind.Threshold,
		Samples:   len(series),
		Method:    models.ThresholdStatic,
	}
}
