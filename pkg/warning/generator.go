// Package warning raises time-boxed early-warning alerts from trends,
// velocity, sudden changes and risk indicators, and escalates stale ones.
package warning

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/risk"
	"github.com/quantumlayerhq/ql-health/pkg/trend"
)

// EscalatedPrefix is prepended to the title of an escalated alert.
const EscalatedPrefix = "ESCALATED: "

// Composite alert titles.
const (
	TitleMultipleCritical = "Multiple critical issues detected"
	TitleMultipleHigh     = "Multiple high-priority issues detected"
)

// Config holds generator configuration.
type Config struct {
	AlertTTL            time.Duration
	EscalationThreshold time.Duration
	EscalatedTTL        time.Duration
	// RiskAlertThreshold is the per-indicator risk above which an alert is raised.
	RiskAlertThreshold float64
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{
		AlertTTL:            72 * time.Hour,
		EscalationThreshold: 24 * time.Hour,
		EscalatedTTL:        12 * time.Hour,
		RiskAlertThreshold:  0.6,
	}
}

// Input is everything the generator inspects in one pass.
type Input struct {
	Trends         models.TrendData
	Historical     *models.HistoricalData
	RiskIndicators []models.RiskIndicator
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithAnalyzer sets the analyzer used to mine historical data for declining trends.
func WithAnalyzer(a *trend.Analyzer) Option {
	return func(g *Generator) { g.analyzer = a }
}

// Generator produces and escalates alerts. It is safe for concurrent use.
type Generator struct {
	log      *logger.Logger
	cfg      Config
	now      func() time.Time
	analyzer *trend.Analyzer
}

// NewGenerator creates an alert generator. Zero-valued config fields take defaults.
func NewGenerator(cfg Config, log *logger.Logger, opts ...Option) *Generator {
	def := DefaultConfig()
	if cfg.AlertTTL <= 0 {
		cfg.AlertTTL = def.AlertTTL
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = def.EscalationThreshold
	}
	if cfg.EscalatedTTL <= 0 {
		cfg.EscalatedTTL = def.EscalatedTTL
	}
	if cfg.RiskAlertThreshold <= 0 {
		cfg.RiskAlertThreshold = def.RiskAlertThreshold
	}
	if log == nil {
		log = logger.Nop()
	}

	g := &Generator{
		log: log.WithComponent("warning-generator"),
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.analyzer == nil {
		g.analyzer = trend.NewAnalyzer(trend.DefaultConfig(), log)
	}
	return g
}

// Generate returns the deduplicated alerts for in, most severe and most
// probable first.
func (g *Generator) Generate(ctx context.Context, in Input) []models.Alert {
	now := g.now()
	data := g.enrich(ctx, in)

	var alerts []models.Alert
	// 1. Declining trends
	for _, sig := range data.Trends {
		if sig.Direction != models.TrendDeclining {
			continue
		}
		if b, ok := declineBand(math.Abs(sig.ChangeRate)); ok {
			alerts = append(alerts, g.newAlert(now, models.AlertTypeTrendDecline, sig.Metric, b,
				"Declining trend in "+sig.Metric,
				fmt.Sprintf("%s is declining at a rate of %.2f", sig.Metric, math.Abs(sig.ChangeRate))))
		}
	}

	// 2. Velocity drops
	for _, v := range data.VelocityIndicators {
		if v.HistoricalAverage <= 0 {
			continue
		}
		ratio := v.Current / v.HistoricalAverage
		if b, ok := velocityBand(ratio); ok {
			alerts = append(alerts, g.newAlert(now, models.AlertTypeVelocityDrop, v.Name, b,
				"Velocity drop in "+v.Name,
				fmt.Sprintf("%s is at %.0f%% of its historical average (%.2f vs %.2f)", v.Name, ratio*100, v.Current, v.HistoricalAverage)))
		}
	}

	// 3. Sudden changes
	for _, c := range data.RecentChanges {
		if c.ChangeType != models.ChangeSudden {
			continue
		}
		if b, ok := suddenBand(math.Abs(c.Magnitude)); ok {
			alerts = append(alerts, g.newAlert(now, models.AlertTypeSuddenChange, c.Metric, b,
				"Sudden change in "+c.Metric,
				fmt.Sprintf("%s changed abruptly by %.2f", c.Metric, math.Abs(c.Magnitude))))
		}
	}

	// 4. Risk indicators
	for _, ind := range in.RiskIndicators {
		r := risk.IndicatorRisk(ind)
		if b, ok := riskBand(r, g.cfg.RiskAlertThreshold); ok {
			alerts = append(alerts, g.newAlert(now, models.AlertTypeRiskThreshold, ind.Name, b,
				"Risk threshold exceeded for "+ind.Name,
				fmt.Sprintf("%s has an individual risk of %.2f (current %.2f, threshold %.2f)", ind.Name, r, ind.CurrentValue, ind.Threshold)))
		}
	}

	alerts = Deduplicate(alerts)
	alerts = append(alerts, g.composites(now, alerts)...)
	SortAlerts(alerts)

	g.log.DebugContext(ctx, "alerts generated", "count", len(alerts))
	return alerts
}

// enrich fills missing velocity averages from history and adds significant
// declining trends found in history as trend signals. in is not modified.
func (g *Generator) enrich(ctx context.Context, in Input) models.TrendData {
	data := models.TrendData{
		CurrentMetrics:     in.Trends.CurrentMetrics,
		Trends:             slices.Clone(in.Trends.Trends),
		RecentChanges:      in.Trends.RecentChanges,
		VelocityIndicators: slices.Clone(in.Trends.VelocityIndicators),
	}
	if in.Historical == nil {
		return data
	}

	for i, v := range data.VelocityIndicators {
		if v.HistoricalAverage > 0 {
			continue
		}
		if series := in.Historical.Series(v.Name); len(series) > 0 {
			data.VelocityIndicators[i].HistoricalAverage = stat.Mean(series, nil)
		}
	}

	for _, t := range trend.Declining(g.analyzer.Analyze(ctx, in.Historical)) {
		data.Trends = append(data.Trends, models.TrendSignal{
			Metric:     t.Metric,
			Direction:  models.TrendDeclining,
			ChangeRate: -t.Strength,
		})
	}
	return data
}

func (g *Generator) newAlert(now time.Time, t models.AlertType, metric string, b band, title, description string) models.Alert {
	return models.Alert{
		ID:                        uuid.New(),
		Type:                      t,
		Severity:                  b.severity,
		Title:                     title,
		Description:               description,
		Metric:                    metric,
		Probability:               models.Clamp01(b.probability),
		EstimatedTimeToOccurrence: b.occurrence,
		PotentialImpact:           potentialImpact(t, metric),
		PreventionWindow:          b.prevention,
		SuggestedActions:          suggestedActions(t, metric, b.severity),
		CreatedAt:                 now,
		ExpiresAt:                 now.Add(g.cfg.AlertTTL),
	}
}

// composites returns the multiple-issue alerts for a deduplicated set.
func (g *Generator) composites(now time.Time, alerts []models.Alert) []models.Alert {
	var critical, high []models.Alert
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityCritical:
			critical = append(critical, a)
		case models.SeverityHigh:
			high = append(high, a)
		}
	}

	var out []models.Alert
	if len(critical) >= 2 {
		out = append(out, g.composite(now, multipleCriticalBand, TitleMultipleCritical, critical))
	}
	if len(high) >= 3 {
		out = append(out, g.composite(now, multipleHighBand, TitleMultipleHigh, high))
	}
	return out
}

func (g *Generator) composite(now time.Time, b band, title string, members []models.Alert) models.Alert {
	titles := make([]string, len(members))
	for i, m := range members {
		titles[i] = m.Title
		b.probability = math.Max(b.probability, m.Probability)
	}
	return g.newAlert(now, models.AlertTypeMultipleIssues, "", b, title,
		fmt.Sprintf("%d concurrent %s issues: %s", len(members), b.severity, strings.Join(titles, "; ")))
}

// Deduplicate keeps the first alert seen for every (type, title, severity).
func Deduplicate(alerts []models.Alert) []models.Alert {
	seen := make(map[models.AlertKey]struct{}, len(alerts))
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if _, dup := seen[a.Key()]; dup {
			continue
		}
		seen[a.Key()] = struct{}{}
		out = append(out, a)
	}
	return out
}

// SortAlerts orders alerts by severity then probability, both descending.
// Ties keep their input order.
func SortAlerts(alerts []models.Alert) {
	slices.SortStableFunc(alerts, func(a, b models.Alert) int {
		if c := b.Severity.Compare(a.Severity); c != 0 {
			return c
		}
		switch {
		case a.Probability > b.Probability:
			return -1
		case a.Probability < b.Probability:
			return 1
		default:
			return 0
		}
	})
}

// Escalate returns the alerts still active at now. Every active, non-critical
// alert older than the escalation threshold is replaced by a critical
// derivative with a new ID and a fresh, shorter expiry. Inputs are not modified.
func (g *Generator) Escalate(alerts []models.Alert, now time.Time) []models.Alert {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.IsActive(now) {
			continue
		}
		if a.Severity == models.SeverityCritical || a.Age(now) <= g.cfg.EscalationThreshold {
			out = append(out, a)
			continue
		}
		out = append(out, g.escalate(a, now))
	}
	return out
}

func (g *Generator) escalate(a models.Alert, now time.Time) models.Alert {
	origin := a.ID
	esc := a
	esc.ID = uuid.New()
	esc.Severity = models.SeverityCritical
	esc.Title = EscalatedPrefix + a.Title
	esc.CreatedAt = now
	esc.ExpiresAt = now.Add(g.cfg.EscalatedTTL)
	esc.EscalatedFrom = &origin
	esc.SuggestedActions = make([]models.PreventiveAction, len(a.SuggestedActions))
	for i, act := range a.SuggestedActions {
		act.RequiredResources = slices.Clone(act.RequiredResources)
		esc.SuggestedActions[i] = act
	}
	if len(esc.SuggestedActions) > 0 {
		esc.SuggestedActions[0].Priority = models.SeverityCritical
	}
	return esc
}
