package models

import "time"

// RiskFactor is one indicator's contribution to an assessment.
type RiskFactor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Risk        float64        `json:"risk"`      // 0-1
	Deviation   float64        `json:"deviation"` // |current-threshold|/|threshold|
	Weight      float64        `json:"weight"`
	Trend       TrendDirection `json:"trend"`
}

// ThresholdMethod records how a dynamic threshold was derived.
type ThresholdMethod string

const (
	ThresholdStatistical ThresholdMethod = "statistical"
	ThresholdStatic      ThresholdMethod = "static"
)

// DynamicThreshold holds the warning/critical/emergency boundaries for an indicator.
type DynamicThreshold struct {
	Indicator string          `json:"indicator"`
	Warning   float64         `json:"warning"`
	Critical  float64         `json:"critical"`
	Emergency float64         `json:"emergency"`
	Mean      float64         `json:"mean,omitempty"`
	StdDev    float64         `json:"stdDev,omitempty"`
	Samples   int             `json:"samples"`
	Method    ThresholdMethod `json:"method"`
}

// RiskAssessment is the result of assessing a set of risk indicators.
type RiskAssessment struct {
	OverallRisk     float64            `json:"overallRisk"`
	Level           SeverityLevel      `json:"level"`
	CompoundRisk    float64            `json:"compoundRisk"`
	RiskFactors     []RiskFactor       `json:"riskFactors"`
	Recommendations []string           `json:"recommendations"`
	ConfidenceLevel float64            `json:"confidenceLevel"`
	Thresholds      []DynamicThreshold `json:"thresholds,omitempty"`
	AssessedAt      time.Time          `json:"assessedAt"`
}

// CorrelationMethod records how two indicators were correlated.
type CorrelationMethod string

const (
	CorrelationPearson    CorrelationMethod = "pearson"
	CorrelationTrendProxy CorrelationMethod = "trend_proxy"
)

// IndicatorCorrelation is the pairwise correlation of two indicators.
type IndicatorCorrelation struct {
	A           string            `json:"a"`
	B           string            `json:"b"`
	Coefficient float64           `json:"coefficient"`
	Method      CorrelationMethod `json:"method"`
}
