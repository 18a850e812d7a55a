package models

// StrengthClass buckets trend strength.
type StrengthClass string

const (
	StrengthWeak     StrengthClass = "weak"
	StrengthModerate StrengthClass = "moderate"
	StrengthStrong   StrengthClass = "strong"
)

// ClassifyStrength buckets a [0,1] strength.
func ClassifyStrength(strength float64) StrengthClass {
	switch {
	case strength >= 0.7:
		return StrengthStrong
	case strength >= 0.3:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// MetricTrend is a fitted, significant trend for one metric.
type MetricTrend struct {
	Metric        string         `json:"metric"`
	Direction     TrendDirection `json:"direction"`
	Strength      float64        `json:"strength"`
	StrengthClass StrengthClass  `json:"strengthClass"`
	Duration      Duration       `json:"duration"`
	Significance  float64        `json:"significance"`
	Slope         float64        `json:"slope"`
	Intercept     float64        `json:"intercept"`
}

// Forecast is a near-future projection of a metric.
type Forecast struct {
	Metric         string  `json:"metric"`
	PredictedValue float64 `json:"predictedValue"`
	Confidence     float64 `json:"confidence"`
	LowerBound     float64 `json:"lowerBound"`
	UpperBound     float64 `json:"upperBound"`
	Horizon        int     `json:"horizon"`
}

// TrendAnalysisResult is the output of the trend analyzer.
type TrendAnalysisResult struct {
	Trends          []MetricTrend `json:"trends"`
	Forecasts       []Forecast    `json:"forecasts"`
	Recommendations []string      `json:"recommendations"`
	Confidence      float64       `json:"confidence"`
}

// ChangeType describes how a metric moved.
type ChangeType string

const (
	ChangeGradual  ChangeType = "gradual"
	ChangeSudden   ChangeType = "sudden"
	ChangeCyclical ChangeType = "cyclical"
)

// TrendSignal is a live trend observation for a metric.
type TrendSignal struct {
	Metric     string         `json:"metric" validate:"required"`
	Direction  TrendDirection `json:"direction"`
	ChangeRate float64        `json:"changeRate"`
}

// MetricChange is a recent change detected on a metric.
type MetricChange struct {
	Metric     string     `json:"metric" validate:"required"`
	ChangeType ChangeType `json:"changeType"`
	Magnitude  float64    `json:"magnitude"`
	Direction  string     `json:"direction,omitempty"` // increase, decrease
}

// VelocityIndicator compares a delivery-speed metric with its history.
type VelocityIndicator struct {
	Name              string  `json:"name" validate:"required"`
	Current           float64 `json:"current"`
	HistoricalAverage float64 `json:"historicalAverage"`
}

// TrendData is the live metric picture fed to the warning generator.
type TrendData struct {
	CurrentMetrics     map[string]float64  `json:"currentMetrics,omitempty"`
	Trends             []TrendSignal       `json:"trends,omitempty" validate:"dive"`
	RecentChanges      []MetricChange      `json:"recentChanges,omitempty" validate:"dive"`
	VelocityIndicators []VelocityIndicator `json:"velocityIndicators,omitempty" validate:"dive"`
}
