// Package metrics provides Prometheus instrumentation for the health engine.
//
// All recorders are safe for concurrent use and tolerate a nil *Metrics, so
// library callers that do not want metrics can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantumlayerhq/ql-health/pkg/models"
)

const namespace = "qlhealth"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the collectors registered for one engine instance.
type Metrics struct {
	// OperationsTotal counts engine calls. Labels: operation, outcome.
	OperationsTotal *prometheus.CounterVec

	// OperationDuration measures engine call latency. Labels: operation.
	OperationDuration *prometheus.HistogramVec

	// SeverityTotal counts final gap severities. Labels: level.
	SeverityTotal *prometheus.CounterVec

	// StrategyFailuresTotal counts recovered scoring strategy failures. Labels: strategy.
	StrategyFailuresTotal *prometheus.CounterVec

	// RiskScore observes overall risk per assessment.
	RiskScore prometheus.Histogram

	// AlertsTotal counts generated alerts. Labels: type, severity.
	AlertsTotal *prometheus.CounterVec

	// EscalationsTotal counts escalated alerts.
	EscalationsTotal prometheus.Counter

	// SnapshotsTotal counts snapshot events handled by the pipeline. Labels: status.
	SnapshotsTotal *prometheus.CounterVec

	// BreakerState is the circuit breaker state (0 closed, 1 open, 2 half-open). Labels: name.
	BreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"operation"}),

		SeverityTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "severity",
			Name:      "levels_total",
			Help:      "Gap severities produced by the ensemble scorer.",
		}, []string{"level"}),

		StrategyFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "severity",
			Name:      "strategy_failures_total",
			Help:      "Scoring strategy errors or panics replaced by the fallback level.",
		}, []string{"strategy"}),

		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "overall_score",
			Help:      "Distribution of overall risk per assessment.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warning",
			Name:      "alerts_total",
			Help:      "Early-warning alerts generated by type and severity.",
		}, []string{"type", "severity"}),

		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warning",
			Name:      "escalations_total",
			Help:      "Alerts replaced by an escalated critical derivative.",
		}),

		SnapshotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshots_total",
			Help:      "Project snapshot events handled by status.",
		}, []string{"status"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by dependency (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
	}
}

// ObserveOperation records one engine call.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordSeverity counts a final severity.
func (m *Metrics) RecordSeverity(level models.SeverityLevel) {
	if m == nil {
		return
	}
	m.SeverityTotal.WithLabelValues(string(level)).Inc()
}

// RecordStrategyFailure counts a recovered strategy failure.
func (m *Metrics) RecordStrategyFailure(strategy string) {
	if m == nil {
		return
	}
	m.StrategyFailuresTotal.WithLabelValues(strategy).Inc()
}

// RecordRisk observes an assessment's overall risk.
func (m *Metrics) RecordRisk(risk float64) {
	if m == nil {
		return
	}
	m.RiskScore.Observe(risk)
}

// RecordAlerts counts generated alerts.
func (m *Metrics) RecordAlerts(alerts []models.Alert) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// RecordEscalations counts escalated derivatives.
func (m *Metrics) RecordEscalations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EscalationsTotal.Add(float64(n))
}

// RecordSnapshot counts a handled snapshot event.
func (m *Metrics) RecordSnapshot(status string) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(status).Inc()
}

// RecordBreakerState sets the state gauge of a circuit breaker.
func (m *Metrics) RecordBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
