// Package severity classifies gaps into four severity levels by combining
// several scoring strategies in a weighted ensemble.
package severity

import (
	"context"
	"fmt"
	"slices"

	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// Base ensemble weights.
const (
	weightStandard    = 0.4
	weightRiskBased   = 0.3
	weightFeature     = 0.2
	weightComparative = 0.1
)

// Input is the optional context a gap is scored against.
type Input struct {
	History    []models.Gap
	Benchmarks []models.Gap
}

// ScoreOption supplies optional scoring input.
type ScoreOption func(*Input)

// WithHistory supplies previously observed gaps. Feature weighting joins the
// ensemble once the history reaches Config.MinHistoricalGaps.
func WithHistory(history []models.Gap) ScoreOption {
	return func(in *Input) { in.History = history }
}

// WithBenchmarks supplies peer gaps for comparative scoring.
func WithBenchmarks(benchmarks []models.Gap) ScoreOption {
	return func(in *Input) { in.Benchmarks = benchmarks }
}

// Config holds scorer configuration.
type Config struct {
	MinHistoricalGaps int
	Calibrator        Calibrator
}

// DefaultConfig returns the default scorer configuration.
func DefaultConfig() Config {
	return Config{
		MinHistoricalGaps: 10,
		Calibrator:        NewJitterCalibrator(),
	}
}

// FailureHook is called whenever a strategy fails and is replaced by medium.
type FailureHook func(strategy Strategy, err error)

// Option configures a Scorer.
type Option func(*Scorer)

// WithFailureHook registers a hook for recovered strategy failures.
func WithFailureHook(h FailureHook) Option {
	return func(s *Scorer) { s.onFailure = h }
}

type strategyFunc func(models.Gap, Input) (models.SeverityLevel, error)

type strategy struct {
	name Strategy
	fn   strategyFunc
}

// StrategyResult is one strategy's contribution to an ensemble decision.
type StrategyResult struct {
	Strategy Strategy             `json:"strategy"`
	Level    models.SeverityLevel `json:"level"`
	Weight   float64              `json:"weight"`
	Error    string               `json:"error,omitempty"`
}

// Result explains an ensemble decision.
type Result struct {
	Level      models.SeverityLevel `json:"level"`
	Rank       float64              `json:"rank"`
	Strategies []StrategyResult     `json:"strategies"`
}

// Scorer computes gap severity. It holds no mutable state after construction
// and is safe for concurrent use.
type Scorer struct {
	log        *logger.Logger
	cfg        Config
	strategies []strategy
	onFailure  FailureHook
}

// NewScorer creates a severity scorer. Zero-valued config fields take defaults.
func NewScorer(cfg Config, log *logger.Logger, opts ...Option) *Scorer {
	def := DefaultConfig()
	if cfg.MinHistoricalGaps <= 0 {
		cfg.MinHistoricalGaps = def.MinHistoricalGaps
	}
	if cfg.Calibrator == nil {
		cfg.Calibrator = def.Calibrator
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Scorer{
		log: log.WithComponent("severity-scorer"),
		cfg: cfg,
	}
	s.strategies = []strategy{
		{StrategyWeightedFactor, scoreWeightedFactor},
		{StrategyRiskBased, scoreRiskBased},
		{StrategyFeatureWeighted, s.scoreFeatureWeighted},
		{StrategyComparative, scoreComparative},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the ensemble severity of a gap. It never fails: a strategy
// that errors or panics contributes medium.
func (s *Scorer) Score(ctx context.Context, gap models.Gap, opts ...ScoreOption) models.SeverityLevel {
	return s.Explain(ctx, gap, opts...).Level
}

// Explain returns the ensemble severity together with every strategy's vote.
func (s *Scorer) Explain(ctx context.Context, gap models.Gap, opts ...ScoreOption) Result {
	var in Input
	for _, opt := range opts {
		opt(&in)
	}

	weights := s.ensembleWeights(in)
	result := Result{Strategies: make([]StrategyResult, 0, len(weights))}

	var rank float64
	for _, st := range s.strategies {
		w, ok := weights[st.name]
		if !ok {
			continue
		}
		level, err := s.run(ctx, st, gap, in)
		sr := StrategyResult{Strategy: st.name, Level: level, Weight: w}
		if err != nil {
			sr.Error = err.Error()
		}
		result.Strategies = append(result.Strategies, sr)
		rank += w * float64(level.Rank())
	}

	result.Rank = rank
	result.Level = models.SeverityFromRank(rank)
	return result
}

// ensembleWeights returns the weight of every participating strategy.
// Mass of absent strategies is split evenly between standard and risk-based,
// so the weights always sum to 1.
func (s *Scorer) ensembleWeights(in Input) map[Strategy]float64 {
	weights := map[Strategy]float64{
		StrategyWeightedFactor: weightStandard,
		StrategyRiskBased:      weightRiskBased,
	}
	var unused float64

	if len(in.History) >= s.cfg.MinHistoricalGaps {
		weights[StrategyFeatureWeighted] = weightFeature
	} else {
		unused += weightFeature
	}
	if len(in.Benchmarks) > 0 {
		weights[StrategyComparative] = weightComparative
	} else {
		unused += weightComparative
	}

	weights[StrategyWeightedFactor] += unused / 2
	weights[StrategyRiskBased] += unused / 2
	return weights
}

// run executes one strategy, converting errors, panics and unknown levels into medium.
func (s *Scorer) run(ctx context.Context, st strategy, gap models.Gap, in Input) (level models.SeverityLevel, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", st.name, r)
		}
		if err == nil && !level.IsValid() {
			err = fmt.Errorf("strategy %s returned unknown level %q", st.name, level)
		}
		if err != nil {
			level = models.SeverityMedium
			s.log.WithError(err).WarnContext(ctx, "severity strategy failed, using medium",
				"strategy", st.name,
				"gap_id", gap.ID,
			)
			if s.onFailure != nil {
				s.onFailure(st.name, err)
			}
		}
	}()
	return st.fn(gap, in)
}

func (s *Scorer) scoreFeatureWeighted(g models.Gap, in Input) (models.SeverityLevel, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	weights := DefaultFeatureWeights
	if len(in.History) >= s.cfg.MinHistoricalGaps {
		weights = s.cfg.Calibrator.Calibrate(slices.Clone(in.History))
	}
	return models.SeverityFromScore(FeatureScore(g, weights)), nil
}
