package severity

import "github.com/quantumlayerhq/ql-health/pkg/models"

// typeMultiplier scales the weighted-factor composite by gap type.
func typeMultiplier(t models.GapType) float64 {
	switch t {
	case models.GapTypeResource, models.GapTypeTimeline:
		return 1.0
	case models.GapTypeQuality:
		return 0.95
	case models.GapTypeTechnical:
		return 0.9
	case models.GapTypeProcess, models.GapTypeScope:
		return 0.85
	case models.GapTypeSkill:
		return 0.8
	case models.GapTypeCommunication:
		return 0.75
	default:
		return 0.8
	}
}

// categoryMultiplier scales the composite by organizational layer. It doubles
// as the category feature of the feature-weighted strategy.
func categoryMultiplier(c models.GapCategory) float64 {
	switch c {
	case models.GapCategoryStrategic:
		return 1.0
	case models.GapCategoryOperational, models.GapCategoryTechnical:
		return 0.9
	case models.GapCategoryTactical:
		return 0.8
	case models.GapCategoryOrganizational:
		return 0.75
	default:
		return 0.8
	}
}

// typeComplexity is the intrinsic difficulty of closing a gap of this type.
func typeComplexity(t models.GapType) float64 {
	switch t {
	case models.GapTypeTechnical:
		return 0.8
	case models.GapTypeQuality:
		return 0.7
	case models.GapTypeProcess, models.GapTypeScope, models.GapTypeSkill:
		return 0.6
	case models.GapTypeTimeline:
		return 0.4
	default:
		return 0.5
	}
}

// typeBaseRequirement is the baseline resource demand of a gap type.
func typeBaseRequirement(t models.GapType) float64 {
	switch t {
	case models.GapTypeResource:
		return 0.8
	case models.GapTypeTechnical:
		return 0.7
	case models.GapTypeQuality:
		return 0.6
	case models.GapTypeTimeline:
		return 0.4
	default:
		return 0.5
	}
}

// timeframeUrgency doubles as the time-sensitivity table of the risk-based strategy.
func timeframeUrgency(tf models.Timeframe) float64 {
	switch tf {
	case models.TimeframeImmediate:
		return 1.0
	case models.TimeframeShortTerm:
		return 0.75
	case models.TimeframeMediumTerm:
		return 0.5
	case models.TimeframeLongTerm:
		return 0.25
	default:
		return 0.5
	}
}

func timeframeImmediacy(tf models.Timeframe) float64 {
	switch tf {
	case models.TimeframeImmediate:
		return 1.0
	case models.TimeframeShortTerm:
		return 0.7
	case models.TimeframeMediumTerm:
		return 0.4
	case models.TimeframeLongTerm:
		return 0.1
	default:
		return 0.4
	}
}

// ratio returns min(n, limit)/limit.
func ratio(n, limit int) float64 {
	return float64(min(n, limit)) / float64(limit)
}
