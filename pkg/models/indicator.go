package models

// TrendDirection is the observed direction of an indicator or metric.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
	TrendVolatile  TrendDirection = "volatile"
)

// RiskMultiplier is the factor applied to a per-indicator risk for a trend.
func (t TrendDirection) RiskMultiplier() float64 {
	switch t {
	case TrendDeclining:
		return 1.3
	case TrendVolatile:
		return 1.2
	case TrendImproving:
		return 0.8
	default:
		return 1.0
	}
}

// RiskIndicator is a named, weighted metric with a threshold and trend.
// Weights across a set need not sum to 1; aggregation normalizes them.
type RiskIndicator struct {
	Name         string         `json:"name" validate:"required"`
	CurrentValue float64        `json:"currentValue"`
	Threshold    float64        `json:"threshold"`
	Trend        TrendDirection `json:"trend" validate:"omitempty,oneof=improving stable declining volatile"`
	Weight       float64        `json:"weight" validate:"gte=0,lte=1"`
}
