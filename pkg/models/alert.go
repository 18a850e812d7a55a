package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType identifies the source that raised an alert.
type AlertType string

const (
	AlertTypeTrendDecline   AlertType = "trend_decline"
	AlertTypeVelocityDrop   AlertType = "velocity_drop"
	AlertTypeSuddenChange   AlertType = "sudden_change"
	AlertTypeRiskThreshold  AlertType = "risk_threshold"
	AlertTypeMultipleIssues AlertType = "multiple_issues"
)

// PreventiveAction is a templated step suggested with an alert.
type PreventiveAction struct {
	Action            string        `json:"action"`
	Priority          SeverityLevel `json:"priority"`
	EstimatedEffort   string        `json:"estimatedEffort"` // low, medium, high
	RequiredResources []string      `json:"requiredResources"`
}

// Alert is a time-boxed early warning of a predicted issue.
type Alert struct {
	ID                        uuid.UUID          `json:"id"`
	Type                      AlertType          `json:"type"`
	Severity                  SeverityLevel      `json:"severity"`
	Title                     string             `json:"title"`
	Description               string             `json:"description"`
	Metric                    string             `json:"metric,omitempty"`
	Probability               float64            `json:"probability"`
	EstimatedTimeToOccurrence Duration           `json:"estimatedTimeToOccurrence"`
	PotentialImpact           string             `json:"potentialImpact"`
	PreventionWindow          Duration           `json:"preventionWindow"`
	SuggestedActions          []PreventiveAction `json:"suggestedActions"`
	CreatedAt                 time.Time          `json:"createdAt"`
	ExpiresAt                 time.Time          `json:"expiresAt"`
	EscalatedFrom             *uuid.UUID         `json:"escalatedFrom,omitempty"`
}

// AlertKey is the identity used for deduplication.
type AlertKey struct {
	Type     AlertType
	Title    string
	Severity SeverityLevel
}

// Key returns the deduplication key of the alert.
func (a Alert) Key() AlertKey {
	return AlertKey{Type: a.Type, Title: a.Title, Severity: a.Severity}
}

// IsActive reports whether the alert has not yet expired at now.
func (a Alert) IsActive(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// Age returns how long the alert has existed at now.
func (a Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
