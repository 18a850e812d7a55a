package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGap is returned when a gap carries non-finite values.
var ErrInvalidGap = errors.New("invalid gap")

// GapType classifies what kind of discrepancy a gap represents.
type GapType string

const (
	GapTypeResource      GapType = "resource"
	GapTypeProcess       GapType = "process"
	GapTypeTimeline      GapType = "timeline"
	GapTypeQuality       GapType = "quality"
	GapTypeTechnical     GapType = "technical"
	GapTypeScope         GapType = "scope"
	GapTypeCommunication GapType = "communication"
	GapTypeSkill         GapType = "skill"
)

// GapCategory is the organizational layer a gap belongs to.
type GapCategory string

const (
	GapCategoryOperational    GapCategory = "operational"
	GapCategoryStrategic      GapCategory = "strategic"
	GapCategoryTactical       GapCategory = "tactical"
	GapCategoryTechnical      GapCategory = "technical"
	GapCategoryOrganizational GapCategory = "organizational"
)

// ImpactLevel is the 5-point impact scale.
type ImpactLevel string

const (
	ImpactMinimal  ImpactLevel = "minimal"
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// Score maps the impact scale onto [0.2,1.0]. Unknown levels score as medium.
func (l ImpactLevel) Score() float64 {
	switch l {
	case ImpactMinimal:
		return 0.2
	case ImpactLow:
		return 0.4
	case ImpactMedium:
		return 0.6
	case ImpactHigh:
		return 0.8
	case ImpactCritical:
		return 1.0
	default:
		return 0.6
	}
}

// Timeframe buckets when the impact of a gap is expected to land.
type Timeframe string

const (
	TimeframeImmediate  Timeframe = "immediate"
	TimeframeShortTerm  Timeframe = "short_term"
	TimeframeMediumTerm Timeframe = "medium_term"
	TimeframeLongTerm   Timeframe = "long_term"
)

// RootCause is a suspected cause of a gap.
type RootCause struct {
	Description        string  `json:"description"`
	Confidence         float64 `json:"confidence"`
	ContributionWeight float64 `json:"contributionWeight"`
}

// AffectedArea is a part of the project touched by a gap.
type AffectedArea struct {
	Name        string      `json:"name"`
	Criticality ImpactLevel `json:"criticality"`
}

// EstimatedImpact describes the expected consequence of leaving a gap open.
type EstimatedImpact struct {
	Level                ImpactLevel `json:"level"`
	AffectedStakeholders []string    `json:"affectedStakeholders"`
	Timeframe            Timeframe   `json:"timeframe"`
}

// Gap is a measured discrepancy between a current value and its target.
// Severity is never stored on a gap; it is always derived by the scorer.
type Gap struct {
	ID              string          `json:"id,omitempty"`
	Type            GapType         `json:"type"`
	Category        GapCategory     `json:"category"`
	CurrentValue    float64         `json:"currentValue"`
	TargetValue     float64         `json:"targetValue"`
	Variance        float64         `json:"variance"`
	Confidence      float64         `json:"confidence"`
	RootCauses      []RootCause     `json:"rootCauses,omitempty"`
	AffectedAreas   []AffectedArea  `json:"affectedAreas,omitempty"`
	EstimatedImpact EstimatedImpact `json:"estimatedImpact"`

	// Outcome is the severity observed after a historical gap was resolved.
	// Only calibration reads it; it is nil for live gaps.
	Outcome *SeverityLevel `json:"outcome,omitempty"`
}

// NewGap builds a gap from its measured values, deriving the variance.
func NewGap(gapType GapType, category GapCategory, current, target, confidence float64) Gap {
	return Gap{
		Type:         gapType,
		Category:     category,
		CurrentValue: current,
		TargetValue:  target,
		Variance:     ComputeVariance(current, target),
		Confidence:   Clamp01(confidence),
	}
}

// ComputeVariance returns (current-target)/target.
//
// A zero target yields 0 when current is also 0 and otherwise ±1 with the
// sign of current: the gap is treated as a full deviation from nothing.
func ComputeVariance(current, target float64) float64 {
	if target == 0 {
		switch {
		case current > 0:
			return 1
		case current < 0:
			return -1
		default:
			return 0
		}
	}
	return (current - target) / target
}

// StakeholderCount returns the number of affected stakeholders.
func (g Gap) StakeholderCount() int {
	return len(g.EstimatedImpact.AffectedStakeholders)
}

// Validate reports the first non-finite numeric field, checked in the order
// variance, confidence, current, target.
func (g Gap) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"variance", g.Variance},
		{"confidence", g.Confidence},
		{"current", g.CurrentValue},
		{"target", g.TargetValue},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidGap, f.name, f.value)
		}
	}
	return nil
}
