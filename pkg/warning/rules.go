package warning

import "github.com/quantumlayerhq/ql-health/pkg/models"

// band is one row of a source's severity table. The prevention window is
// always shorter than the time to occurrence.
type band struct {
	severity    models.SeverityLevel
	probability float64
	occurrence  models.Duration
	prevention  models.Duration
}

// declineBand maps the strength of a declining trend.
func declineBand(strength float64) (band, bool) {
	switch {
	case strength >= 0.9:
		return band{models.SeverityCritical, 0.85, models.Days(3), models.Days(1)}, true
	case strength >= 0.7:
		return band{models.SeverityHigh, 0.70, models.Days(7), models.Days(3)}, true
	case strength >= 0.5:
		return band{models.SeverityMedium, 0.50, models.Days(14), models.Days(7)}, true
	}
	return band{}, false
}

// velocityBand maps current/historical velocity.
func velocityBand(ratio float64) (band, bool) {
	switch {
	case ratio < 0.5:
		return band{models.SeverityCritical, 0.90, models.Days(2), models.Days(1)}, true
	case ratio < 0.7:
		return band{models.SeverityHigh, 0.75, models.Days(5), models.Days(2)}, true
	case ratio < 0.9:
		return band{models.SeverityMedium, 0.55, models.Days(10), models.Days(5)}, true
	}
	return band{}, false
}

// suddenBand maps the magnitude of a sudden change.
func suddenBand(magnitude float64) (band, bool) {
	switch {
	case magnitude >= 0.8:
		return band{models.SeverityCritical, 0.80, models.Hours(24), models.Hours(12)}, true
	case magnitude >= 0.5:
		return band{models.SeverityHigh, 0.65, models.Days(3), models.Days(1)}, true
	case magnitude >= 0.3:
		return band{models.SeverityMedium, 0.45, models.Days(7), models.Days(3)}, true
	}
	return band{}, false
}

// riskBand maps a per-indicator risk above the alerting threshold.
// Probability is the risk itself.
func riskBand(risk, threshold float64) (band, bool) {
	switch {
	case risk <= threshold:
		return band{}, false
	case risk > 0.8:
		return band{models.SeverityCritical, risk, models.Days(2), models.Days(1)}, true
	default:
		return band{models.SeverityHigh, risk, models.Days(5), models.Days(2)}, true
	}
}

var (
	multipleCriticalBand = band{models.SeverityCritical, 0, models.Hours(12), models.Hours(6)}
	multipleHighBand     = band{models.SeverityHigh, 0, models.Hours(24), models.Hours(12)}
)

func action(text string, priority models.SeverityLevel, effort string, resources ...string) models.PreventiveAction {
	return models.PreventiveAction{
		Action:            text,
		Priority:          priority,
		EstimatedEffort:   effort,
		RequiredResources: resources,
	}
}

// suggestedActions returns the templated actions for a source type.
func suggestedActions(t models.AlertType, metric string, severity models.SeverityLevel) []models.PreventiveAction {
	switch t {
	case models.AlertTypeTrendDecline:
		return []models.PreventiveAction{
			action("Review the drivers behind the decline in "+metric, severity, "medium", "team lead", "analyst"),
			action("Hold a focused retrospective on "+metric, models.SeverityMedium, "low", "delivery team"),
		}
	case models.AlertTypeVelocityDrop:
		return []models.PreventiveAction{
			action("Identify and remove blockers slowing "+metric, severity, "medium", "scrum master", "delivery team"),
			action("Rebalance workload and re-plan upcoming commitments", models.SeverityMedium, "medium", "project manager"),
		}
	case models.AlertTypeSuddenChange:
		return []models.PreventiveAction{
			action("Investigate the root cause of the sudden change in "+metric, severity, "medium", "engineer"),
			action("Verify data quality and collection for "+metric, models.SeverityLow, "low", "analyst"),
		}
	case models.AlertTypeRiskThreshold:
		return []models.PreventiveAction{
			action("Activate the mitigation plan for "+metric, severity, "high", "project manager", "stakeholders"),
			action("Increase monitoring frequency for "+metric, models.SeverityMedium, "low", "analyst"),
		}
	default:
		return []models.PreventiveAction{
			action("Convene a cross-functional review of all active alerts", severity, "high", "leadership", "team leads"),
			action("Freeze non-essential scope until the alerts are resolved", models.SeverityHigh, "medium", "product owner"),
		}
	}
}

func potentialImpact(t models.AlertType, metric string) string {
	switch t {
	case models.AlertTypeTrendDecline:
		return "Continued decline of " + metric + " may push the project off target"
	case models.AlertTypeVelocityDrop:
		return "Reduced " + metric + " puts upcoming delivery commitments at risk"
	case models.AlertTypeSuddenChange:
		return "An abrupt shift in " + metric + " may signal an emerging incident"
	case models.AlertTypeRiskThreshold:
		return "Risk indicator " + metric + " may materialize into a project issue"
	default:
		return "Several concurrent issues may compound into a project-level failure"
	}
}
