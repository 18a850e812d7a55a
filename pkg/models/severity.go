// Package models provides the value objects shared by the project-health engine.
package models

import "math"

// SeverityLevel represents a four-level ordinal classification.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "low"
	SeverityMedium   SeverityLevel = "medium"
	SeverityHigh     SeverityLevel = "high"
	SeverityCritical SeverityLevel = "critical"
)

// Rank maps the level onto the integer scale low=1 ... critical=4.
// Unknown levels rank as medium.
func (s SeverityLevel) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 2
	}
}

// IsValid reports whether s is one of the four known levels.
func (s SeverityLevel) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Compare returns -1, 0 or 1 when s ranks below, equal to or above other.
func (s SeverityLevel) Compare(other SeverityLevel) int {
	a, b := s.Rank(), other.Rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SeverityFromScore converts a normalized [0,1] score to a level.
func SeverityFromScore(score float64) SeverityLevel {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityFromRank converts a (possibly fractional) rank back to a level.
func SeverityFromRank(rank float64) SeverityLevel {
	switch {
	case rank >= 3.5:
		return SeverityCritical
	case rank >= 2.5:
		return SeverityHigh
	case rank >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Clamp01 bounds v to [0,1]. NaN is treated as 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
