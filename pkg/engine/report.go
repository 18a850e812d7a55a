package engine

import (
	"time"

	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/risk"
	"github.com/quantumlayerhq/ql-health/pkg/severity"
)

// Snapshot is the state of one project at a point in time.
type Snapshot struct {
	ProjectID      string                 `json:"projectId" validate:"required"`
	Gaps           []models.Gap           `json:"gaps,omitempty"`
	HistoricalGaps []models.Gap           `json:"historicalGaps,omitempty"`
	Benchmarks     []models.Gap           `json:"benchmarks,omitempty"`
	RiskIndicators []models.RiskIndicator `json:"riskIndicators,omitempty" validate:"dive"`
	Historical     *models.HistoricalData `json:"historical,omitempty"`
	Trends         models.TrendData       `json:"trends"`
}

// GapSeverity pairs a gap with its scoring result.
type GapSeverity struct {
	GapID  string          `json:"gapId,omitempty"`
	Result severity.Result `json:"result"`
}

// Report is the outcome of evaluating a snapshot.
type Report struct {
	ProjectID    string                        `json:"projectId"`
	Severities   []GapSeverity                 `json:"severities"`
	Risk         models.RiskAssessment         `json:"risk"`
	Simulation   *risk.MonteCarloResult        `json:"simulation,omitempty"`
	Correlations []models.IndicatorCorrelation `json:"correlations,omitempty"`
	Trends       models.TrendAnalysisResult    `json:"trends"`
	Alerts       []models.Alert                `json:"alerts"`
	GeneratedAt  time.Time                     `json:"generatedAt"`
}

// HighestSeverity returns the most severe gap level in the report, or low when there are no gaps.
func (r Report) HighestSeverity() models.SeverityLevel {
	level := models.SeverityLow
	for _, s := range r.Severities {
		if s.Result.Level.Compare(level) > 0 {
			level = s.Result.Level
		}
	}
	return level
}
