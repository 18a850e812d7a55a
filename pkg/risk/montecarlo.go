package risk

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// cancelCheckEvery is how many trials a worker runs between context checks.
const cancelCheckEvery = 64

// SimulationOptions configures a Monte Carlo run.
type SimulationOptions struct {
	Trials      int
	JitterScale float64
	Workers     int
	// Seed makes a run reproducible. Zero draws a random seed.
	Seed uint64
}

// DefaultSimulationOptions returns 1000 trials with 10% jitter.
func DefaultSimulationOptions() SimulationOptions {
	return SimulationOptions{
		Trials:      1000,
		JitterScale: 0.1,
		Workers:     runtime.GOMAXPROCS(0),
	}
}

// MonteCarloResult summarizes the distribution of simulated compound risk.
type MonteCarloResult struct {
	Trials        int       `json:"trials"`
	MeanRisk      float64   `json:"meanRisk"`
	P5            float64   `json:"p5"`
	P95           float64   `json:"p95"`
	Deterministic float64   `json:"deterministic"`
	Seed          uint64    `json:"seed"`
	Samples       []float64 `json:"-"`
}

// Simulate perturbs every indicator's current value by cur*(1+JitterScale*z),
// z standard normal, and records the compound risk of each trial. z comes
// from the worker's PCG source via NormFloat64 (ziggurat), not Box-Muller.
// It only fails when ctx is cancelled.
func (e *Engine) Simulate(ctx context.Context, indicators []models.RiskIndicator, opts SimulationOptions) (MonteCarloResult, error) {
	if opts.Trials <= 0 {
		opts.Trials = DefaultSimulationOptions().Trials
	}
	if opts.JitterScale < 0 {
		opts.JitterScale = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	workers := min(opts.Workers, opts.Trials)
	chunk := (opts.Trials + workers - 1) / workers

	samples := make([]float64, opts.Trials)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, opts.Trials)
		if start >= end {
			break
		}
		// Each worker owns its PRNG and a disjoint slice of samples.
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(w)+1))
		g.Go(func() error {
			perturbed := slices.Clone(indicators)
			for i := start; i < end; i++ {
				if (i-start)%cancelCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for k := range indicators {
					perturbed[k].CurrentValue = indicators[k].CurrentValue * (1 + opts.JitterScale*rng.NormFloat64())
				}
				samples[i] = CompoundRisk(perturbed)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return MonteCarloResult{}, fmt.Errorf("monte carlo simulation interrupted: %w", err)
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	result := MonteCarloResult{
		Trials:        opts.Trials,
		MeanRisk:      stat.Mean(samples, nil),
		P5:            stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P95:           stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Deterministic: CompoundRisk(indicators),
		Seed:          opts.Seed,
		Samples:       samples,
	}

	e.log.DebugContext(ctx, "monte carlo simulation complete",
		"trials", result.Trials,
		"workers", workers,
		"mean_risk", result.MeanRisk,
		"p95", result.P95,
	)
	return result, nil
}
