package severity

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// FeatureCount is the dimension of the feature vector.
const FeatureCount = 8

// DefaultFeatureWeights weight, in order: |variance|, root causes, affected
// areas, confidence, impact, stakeholders, type complexity, category weight.
var DefaultFeatureWeights = [FeatureCount]float64{0.25, 0.15, 0.10, 0.05, 0.20, 0.10, 0.10, 0.05}

// Features extracts the feature vector of a gap. Counts are not normalized.
func Features(g models.Gap) [FeatureCount]float64 {
	return [FeatureCount]float64{
		math.Abs(g.Variance),
		float64(len(g.RootCauses)),
		float64(len(g.AffectedAreas)),
		models.Clamp01(g.Confidence),
		g.EstimatedImpact.Level.Score(),
		float64(g.StakeholderCount()),
		typeComplexity(g.Type),
		categoryMultiplier(g.Category),
	}
}

// FeatureScore returns half the dot product of features and weights, clamped to [0,1].
func FeatureScore(g models.Gap, weights [FeatureCount]float64) float64 {
	f := Features(g)
	var dot float64
	for i := range f {
		dot += f[i] * weights[i]
	}
	return models.Clamp01(dot / 2)
}

// Calibrator adjusts the feature weights from a historical sample.
// Implementations must be safe for concurrent use.
type Calibrator interface {
	Calibrate(history []models.Gap) [FeatureCount]float64
}

// JitterCalibrator perturbs each default weight by up to ±Spread, drawn from a
// PRNG seeded only by the history size. It does not learn from outcomes; it
// stands in until enough labelled history exists for LeastSquaresCalibrator.
type JitterCalibrator struct {
	Spread float64
}

// NewJitterCalibrator returns the ±10% jitter stub.
func NewJitterCalibrator() JitterCalibrator {
	return JitterCalibrator{Spread: 0.1}
}

// Calibrate implements Calibrator.
func (c JitterCalibrator) Calibrate(history []models.Gap) [FeatureCount]float64 {
	rng := rand.New(rand.NewPCG(uint64(len(history)), 0))
	w := DefaultFeatureWeights
	for i := range w {
		w[i] *= 1 + c.Spread*(2*rng.Float64()-1)
	}
	return w
}

// LeastSquaresCalibrator fits weights so that FeatureScore approximates the
// observed Outcome of labelled historical gaps.
type LeastSquaresCalibrator struct {
	MinSamples int
}

// NewLeastSquaresCalibrator returns a calibrator requiring 10 labelled gaps.
func NewLeastSquaresCalibrator() LeastSquaresCalibrator {
	return LeastSquaresCalibrator{MinSamples: 10}
}

// outcomeTarget is the score a gap of the given level should reach: the
// midpoint of the level's band on the [0,1] score scale.
func outcomeTarget(level models.SeverityLevel) float64 {
	switch level {
	case models.SeverityCritical:
		return 0.9
	case models.SeverityHigh:
		return 0.7
	case models.SeverityMedium:
		return 0.5
	default:
		return 0.2
	}
}

// Calibrate implements Calibrator. It returns DefaultFeatureWeights when there
// are too few labelled gaps or the system is singular.
func (c LeastSquaresCalibrator) Calibrate(history []models.Gap) [FeatureCount]float64 {
	labelled := make([]models.Gap, 0, len(history))
	for _, g := range history {
		if g.Outcome != nil && g.Outcome.IsValid() && g.Validate() == nil {
			labelled = append(labelled, g)
		}
	}
	minSamples := max(c.MinSamples, FeatureCount)
	if len(labelled) < minSamples {
		return DefaultFeatureWeights
	}

	x := mat.NewDense(len(labelled), FeatureCount, nil)
	y := mat.NewVecDense(len(labelled), nil)
	for i, g := range labelled {
		f := Features(g)
		x.SetRow(i, f[:])
		// FeatureScore halves the dot product.
		y.SetVec(i, 2*outcomeTarget(*g.Outcome))
	}

	var sol mat.VecDense
	if err := sol.SolveVec(x, y); err != nil {
		return DefaultFeatureWeights
	}

	var w [FeatureCount]float64
	var sum float64
	for i := range w {
		v := sol.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return DefaultFeatureWeights
		}
		w[i] = math.Max(0, v)
		sum += w[i]
	}
	if sum == 0 {
		return DefaultFeatureWeights
	}
	return w
}
