package severity

import (
	"math"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// Strategy names one of the scoring strategies combined by the ensemble.
type Strategy string

const (
	StrategyWeightedFactor  Strategy = "weighted_factor"
	StrategyRiskBased       Strategy = "risk_based"
	StrategyFeatureWeighted Strategy = "feature_weighted"
	StrategyComparative     Strategy = "comparative"
)

// Weighted-factor composite weights.
const (
	impactWeight      = 0.35
	urgencyWeight     = 0.25
	complexityWeight  = 0.15
	resourceWeight    = 0.15
	stakeholderWeight = 0.10
)

// WeightedScore returns the weighted-factor composite of a gap in [0,1].
func WeightedScore(g models.Gap) float64 {
	rc := len(g.RootCauses)
	areas := len(g.AffectedAreas)

	impact := g.EstimatedImpact.Level.Score()
	urgency := 0.5*math.Min(1, math.Abs(g.Variance)) + 0.5*timeframeUrgency(g.EstimatedImpact.Timeframe)
	complexity := 0.4*ratio(rc, 5) + 0.3*ratio(areas, 5) + 0.3*typeComplexity(g.Type)
	resource := math.Min(1, typeBaseRequirement(g.Type)*(1+0.1*float64(rc)))
	stakeholder := ratio(g.StakeholderCount(), 10)

	raw := impactWeight*impact +
		urgencyWeight*urgency +
		complexityWeight*complexity +
		resourceWeight*resource +
		stakeholderWeight*stakeholder

	score := models.Clamp01(raw * typeMultiplier(g.Type) * categoryMultiplier(g.Category))
	return score * (0.8 + 0.2*models.Clamp01(g.Confidence))
}

func scoreWeightedFactor(g models.Gap, _ Input) (models.SeverityLevel, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	return models.SeverityFromScore(WeightedScore(g)), nil
}

// RiskScore returns the risk-based composite of a gap in [0,1].
func RiskScore(g models.Gap) float64 {
	rc := len(g.RootCauses)
	tf := g.EstimatedImpact.Timeframe

	escalation := math.Min(1,
		0.5*math.Min(1, math.Abs(g.Variance))+
			0.3*ratio(rc, 5)+
			0.2*timeframeImmediacy(tf))
	magnitude := 0.5*g.EstimatedImpact.Level.Score() +
		0.3*ratio(g.StakeholderCount(), 10) +
		0.2*ratio(len(g.AffectedAreas), 5)
	sensitivity := timeframeUrgency(tf)

	return models.Clamp01(0.4*escalation + 0.4*magnitude + 0.2*sensitivity)
}

func scoreRiskBased(g models.Gap, _ Input) (models.SeverityLevel, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	return models.SeverityFromScore(RiskScore(g)), nil
}

// PercentileRank is the mid-rank percentile of target's weighted-factor
// composite among the benchmarks: (less + equal/2) / n.
func PercentileRank(target models.Gap, benchmarks []models.Gap) float64 {
	if len(benchmarks) == 0 {
		return 0.5
	}
	score := WeightedScore(target)
	var less, equal int
	for _, b := range benchmarks {
		bs := WeightedScore(b)
		switch {
		case bs < score:
			less++
		case bs == score:
			equal++
		}
	}
	return (float64(less) + 0.5*float64(equal)) / float64(len(benchmarks))
}

func levelFromPercentile(p float64) models.SeverityLevel {
	switch {
	case p >= 0.9:
		return models.SeverityCritical
	case p >= 0.7:
		return models.SeverityHigh
	case p >= 0.4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func scoreComparative(g models.Gap, in Input) (models.SeverityLevel, error) {
	if len(in.Benchmarks) == 0 {
		return scoreWeightedFactor(g, in)
	}
	if err := g.Validate(); err != nil {
		return "", err
	}
	return levelFromPercentile(PercentileRank(g, in.Benchmarks)), nil
}
