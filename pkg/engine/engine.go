// Package engine wires the severity scorer, risk engine, trend analyzer and
// warning generator behind one traced, instrumented facade.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantumlayerhq/ql-health/pkg/config"
	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/metrics"
	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/risk"
	"github.com/quantumlayerhq/ql-health/pkg/severity"
	"github.com/quantumlayerhq/ql-health/pkg/telemetry"
	"github.com/quantumlayerhq/ql-health/pkg/trend"
	"github.com/quantumlayerhq/ql-health/pkg/warning"
)

// Operation names used for spans and metrics.
const (
	OpScore    = "score"
	OpAssess   = "assess"
	OpSimulate = "simulate"
	OpTrends   = "analyze_trends"
	OpWarnings = "generate_warnings"
	OpEscalate = "escalate"
	OpEvaluate = "evaluate"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithMetrics records every operation in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the clock of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine is the project-health scoring engine. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	log      *logger.Logger
	cfg      config.EngineConfig
	metrics  *metrics.Metrics
	now      func() time.Time
	scorer   *severity.Scorer
	risk     *risk.Engine
	trends   *trend.Analyzer
	warnings *warning.Generator
}

// New validates cfg and builds the engine components.
func New(cfg config.EngineConfig, log *logger.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var calibrator severity.Calibrator = severity.NewJitterCalibrator()
	if cfg.Severity.Calibration == "least_squares" {
		calibrator = severity.LeastSquaresCalibrator{MinSamples: cfg.Severity.MinHistoricalGaps}
	}

	trends := trend.NewAnalyzer(trend.Config{
		MinPoints:               cfg.Trend.MinPoints,
		SignificanceSlope:       cfg.Trend.SignificanceSlope,
		ForecastHorizon:         cfg.Trend.ForecastHorizon,
		RecommendationThreshold: cfg.Trend.RecommendationThreshold,
	}, log)

	e := &Engine{
		log:     log.WithComponent("engine"),
		cfg:     cfg,
		metrics: o.metrics,
		now:     o.now,
		scorer: severity.NewScorer(severity.Config{
			MinHistoricalGaps: cfg.Severity.MinHistoricalGaps,
			Calibrator:        calibrator,
		}, log, severity.WithFailureHook(func(s severity.Strategy, _ error) {
			o.metrics.RecordStrategyFailure(string(s))
		})),
		risk: risk.NewEngine(risk.Config{
			ExpectedSampleInterval: cfg.Risk.ExpectedSampleInterval,
			MinThresholdSamples:    cfg.Risk.MinThresholdSamples,
		}, log, risk.WithClock(o.now)),
		trends: trends,
		warnings: warning.NewGenerator(warning.Config{
			AlertTTL:            cfg.Warning.AlertTTL,
			EscalationThreshold: cfg.Warning.EscalationThreshold,
			EscalatedTTL:        cfg.Warning.EscalatedTTL,
			RiskAlertThreshold:  cfg.Warning.RiskAlertThreshold,
		}, log, warning.WithClock(o.now), warning.WithAnalyzer(trends)),
	}
	return e, nil
}

// ScoreGap returns the ensemble severity of a gap with each strategy's vote.
func (e *Engine) ScoreGap(ctx context.Context, gap models.Gap, opts ...severity.ScoreOption) severity.Result {
	ctx, span := telemetry.EngineSpan(ctx, OpScore)
	defer span.End()
	start := time.Now()

	res := e.scorer.Explain(ctx, gap, opts...)

	span.SetAttribute("gap.type", string(gap.Type))
	span.SetAttribute("severity.level", string(res.Level))
	span.SetOK()
	e.metrics.ObserveOperation(OpScore, start, nil)
	e.metrics.RecordSeverity(res.Level)
	return res
}

// AssessRisk assesses a set of risk indicators. historical may be nil.
func (e *Engine) AssessRisk(ctx context.Context, indicators []models.RiskIndicator, historical *models.HistoricalData) models.RiskAssessment {
	ctx, span := telemetry.EngineSpan(ctx, OpAssess)
	defer span.End()
	start := time.Now()

	a := e.risk.Assess(ctx, indicators, historical)

	span.SetAttribute("risk.indicators", len(indicators))
	span.SetAttribute("risk.overall", a.OverallRisk)
	span.SetOK()
	e.metrics.ObserveOperation(OpAssess, start, nil)
	e.metrics.RecordRisk(a.OverallRisk)
	return a
}

// Simulate runs a Monte Carlo estimate with the configured options.
func (e *Engine) Simulate(ctx context.Context, indicators []models.RiskIndicator) (risk.MonteCarloResult, error) {
	ctx, span := telemetry.EngineSpan(ctx, OpSimulate)
	defer span.End()
	start := time.Now()

	res, err := e.risk.Simulate(ctx, indicators, risk.SimulationOptions{
		Trials:      e.cfg.Risk.MonteCarloTrials,
		JitterScale: e.cfg.Risk.MonteCarloJitter,
		Workers:     e.cfg.Risk.MonteCarloWorkers,
		Seed:        e.cfg.Risk.MonteCarloSeed,
	})
	e.metrics.ObserveOperation(OpSimulate, start, err)
	if err != nil {
		span.SetError(err)
		return risk.MonteCarloResult{}, err
	}

	span.SetAttribute("montecarlo.trials", res.Trials)
	span.SetAttribute("montecarlo.mean", res.MeanRisk)
	span.SetOK()
	return res, nil
}

// Correlations returns the pairwise indicator correlations.
func (e *Engine) Correlations(indicators []models.RiskIndicator, historical *models.HistoricalData) []models.IndicatorCorrelation {
	return e.risk.Correlations(indicators, historical)
}

// AnalyzeTrends fits and forecasts every historical metric.
func (e *Engine) AnalyzeTrends(ctx context.Context, historical *models.HistoricalData) models.TrendAnalysisResult {
	ctx, span := telemetry.EngineSpan(ctx, OpTrends)
	defer span.End()
	start := time.Now()

	res := e.trends.Analyze(ctx, historical)

	span.SetAttribute("trend.significant", len(res.Trends))
	span.SetOK()
	e.metrics.ObserveOperation(OpTrends, start, nil)
	return res
}

// GenerateWarnings raises early-warning alerts.
func (e *Engine) GenerateWarnings(ctx context.Context, in warning.Input) []models.Alert {
	ctx, span := telemetry.EngineSpan(ctx, OpWarnings)
	defer span.End()
	start := time.Now()

	alerts := e.warnings.Generate(ctx, in)

	span.SetAttribute("alerts.count", len(alerts))
	span.SetOK()
	e.metrics.ObserveOperation(OpWarnings, start, nil)
	e.metrics.RecordAlerts(alerts)
	return alerts
}

// EscalateAlerts escalates stale alerts as of now.
func (e *Engine) EscalateAlerts(ctx context.Context, alerts []models.Alert, now time.Time) []models.Alert {
	_, span := telemetry.EngineSpan(ctx, OpEscalate)
	defer span.End()
	start := time.Now()

	out := e.warnings.Escalate(alerts, now)

	known := make(map[uuid.UUID]struct{}, len(alerts))
	for _, a := range alerts {
		known[a.ID] = struct{}{}
	}
	escalated := 0
	for _, a := range out {
		if _, ok := known[a.ID]; !ok {
			escalated++
		}
	}
	span.SetAttribute("alerts.escalated", escalated)
	span.SetOK()
	e.metrics.ObserveOperation(OpEscalate, start, nil)
	e.metrics.RecordEscalations(escalated)
	return out
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Evaluate runs the full flow for one project snapshot. Gap scoring, risk
// assessment and trend analysis run concurrently; alerts are generated last.
// A cancelled context only drops the Monte Carlo estimate.
func (e *Engine) Evaluate(ctx context.Context, snap Snapshot) Report {
	ctx, span := telemetry.EngineSpan(ctx, OpEvaluate)
	defer span.End()
	span.SetAttribute("project.id", snap.ProjectID)
	start := time.Now()

	report := Report{
		ProjectID:   snap.ProjectID,
		Severities:  make([]GapSeverity, len(snap.Gaps)),
		GeneratedAt: e.now(),
	}

	scoreOpts := []severity.ScoreOption{
		severity.WithHistory(snap.HistoricalGaps),
		severity.WithBenchmarks(snap.Benchmarks),
	}

	// Each goroutine writes disjoint fields of report.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, gap := range snap.Gaps {
			report.Severities[i] = GapSeverity{GapID: gap.ID, Result: e.ScoreGap(gctx, gap, scoreOpts...)}
		}
		return nil
	})
	g.Go(func() error {
		report.Risk = e.AssessRisk(gctx, snap.RiskIndicators, snap.Historical)
		report.Correlations = e.Correlations(snap.RiskIndicators, snap.Historical)
		if !e.cfg.Risk.MonteCarloEnabled || len(snap.RiskIndicators) == 0 {
			return nil
		}
		sim, err := e.Simulate(gctx, snap.RiskIndicators)
		if err != nil {
			e.log.WithError(err).WarnContext(gctx, "monte carlo estimate dropped", "project_id", snap.ProjectID)
			return nil
		}
		report.Simulation = &sim
		return nil
	})
	g.Go(func() error {
		report.Trends = e.AnalyzeTrends(gctx, snap.Historical)
		return nil
	})
	_ = g.Wait()

	report.Alerts = e.GenerateWarnings(ctx, warning.Input{
		Trends:         snap.Trends,
		Historical:     snap.Historical,
		RiskIndicators: snap.RiskIndicators,
	})

	span.SetAttribute("report.alerts", len(report.Alerts))
	span.SetOK()
	e.metrics.ObserveOperation(OpEvaluate, start, nil)

	e.log.InfoContext(ctx, "snapshot evaluated",
		"project_id", snap.ProjectID,
		"gaps", len(snap.Gaps),
		"overall_risk", report.Risk.OverallRisk,
		"alerts", len(report.Alerts),
	)
	return report
}
