// Package pipeline turns project snapshot events into persisted and
// published alerts.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/quantumlayerhq/ql-health/internal/repository"
	"github.com/quantumlayerhq/ql-health/pkg/engine"
	"github.com/quantumlayerhq/ql-health/pkg/kafka"
	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/metrics"
	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/resilience"
	"github.com/quantumlayerhq/ql-health/pkg/telemetry"
	"github.com/quantumlayerhq/ql-health/pkg/warning"
)

// ErrInvalidEvent is returned for messages that can never be processed.
var ErrInvalidEvent = errors.New("invalid event")

// Snapshot outcome labels.
const (
	StatusProcessed = "processed"
	StatusInvalid   = "invalid"
	StatusFailed    = "failed"
)

// Source is the producer name stamped on published events.
const Source = "ql-health"

// ProjectSnapshotEvent is the payload of a health.snapshot event.
type ProjectSnapshotEvent struct {
	engine.Snapshot
	// CorrelationID is echoed on every alert event raised by this snapshot.
	CorrelationID string `json:"correlationId,omitempty"`
}

// AlertEvent is the payload of a health.alert event.
type AlertEvent struct {
	ProjectID     string       `json:"projectId"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Escalated     bool         `json:"escalated"`
	Alert         models.Alert `json:"alert"`
}

// Evaluator is the part of the engine the processor drives.
type Evaluator interface {
	Evaluate(ctx context.Context, snap engine.Snapshot) engine.Report
	EscalateAlerts(ctx context.Context, alerts []models.Alert, now time.Time) []models.Alert
	Now() time.Time
}

// Store persists alerts and assessments and tracks which alerts have been
// published.
type Store interface {
	ActiveAlerts(ctx context.Context, projectID string, now time.Time) ([]models.Alert, error)
	Persist(ctx context.Context, p repository.PersistParams) error
	UnpublishedAlerts(ctx context.Context, projectID string) ([]models.Alert, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher publishes events.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event kafka.Event) error
}

// Processor handles snapshot events.
type Processor struct {
	engine     Evaluator
	store      Store
	publisher  Publisher
	alertTopic string
	validate   *validator.Validate
	metrics    *metrics.Metrics
	log        *logger.Logger

	storeBreaker   *resilience.Breaker
	publishBreaker *resilience.Breaker
}

// Option configures a Processor.
type Option func(*Processor)

// WithBreakers guards store and publisher calls. Either may be nil.
func WithBreakers(store, publish *resilience.Breaker) Option {
	return func(p *Processor) {
		p.storeBreaker = store
		p.publishBreaker = publish
	}
}

// NewProcessor creates a processor publishing to alertTopic. m may be nil.
func NewProcessor(eng Evaluator, store Store, pub Publisher, alertTopic string, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	p := &Processor{
		engine:     eng,
		store:      store,
		publisher:  pub,
		alertTopic: alertTopic,
		validate:   validator.New(),
		metrics:    m,
		log:        log.WithComponent("snapshot-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Consume is the kafka.MessageHandler for the snapshot topic. Invalid events
// are logged and dropped so the consumer can move past them.
func (p *Processor) Consume(ctx context.Context, msg kafka.Message) error {
	err := p.Handle(ctx, msg)
	if errors.Is(err, ErrInvalidEvent) {
		p.log.WithError(err).WarnContext(ctx, "dropping invalid snapshot event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}
	return err
}

// Handle evaluates one snapshot event, escalates the project's stale alerts,
// persists the outcome and publishes every stored alert not yet published,
// including those left behind by an earlier failed attempt.
func (p *Processor) Handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := telemetry.MessagingSpan(ctx, "process", msg.Topic)
	defer span.End()

	err := p.handle(ctx, msg)
	switch {
	case err == nil:
		span.SetOK()
		p.metrics.RecordSnapshot(StatusProcessed)
	case errors.Is(err, ErrInvalidEvent):
		span.SetError(err)
		p.metrics.RecordSnapshot(StatusInvalid)
	default:
		span.SetError(err)
		p.metrics.RecordSnapshot(StatusFailed)
	}
	return err
}

func (p *Processor) handle(ctx context.Context, msg kafka.Message) error {
	// 1. Decode
	ev, err := p.decode(msg.Value)
	if err != nil {
		return err
	}

	// 2. Validate
	if err := p.validate.StructCtx(ctx, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	for _, g := range ev.Gaps {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("%w: gap %s: %v", ErrInvalidEvent, g.ID, err)
		}
	}

	projectID := ev.ProjectID
	if ev.CorrelationID != "" {
		ctx = logger.SetContextValue(ctx, logger.RequestIDKey, ev.CorrelationID)
	}
	log := p.log.WithContext(ctx).WithProject(projectID)

	// 3. Evaluate
	report := p.engine.Evaluate(ctx, ev.Snapshot)
	now := p.engine.Now()

	// 4. Load active alerts
	var active []models.Alert
	err = guard(ctx, p.storeBreaker, func(ctx context.Context) error {
		var err error
		active, err = p.store.ActiveAlerts(ctx, projectID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load active alerts: %w", err)
	}

	// 5. Escalate
	current := p.engine.EscalateAlerts(ctx, active, now)
	superseded, escalated := diff(active, current)

	fresh := freshAlerts(report.Alerts, active, current)
	toSave := append(escalated, fresh...)

	// 6. Persist
	err = guard(ctx, p.storeBreaker, func(ctx context.Context) error {
		return p.store.Persist(ctx, repository.PersistParams{
			ProjectID:  projectID,
			Superseded: superseded,
			Alerts:     toSave,
			Report:     report,
			At:         now,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to persist evaluation: %w", err)
	}

	// 7. Publish
	var pending []models.Alert
	err = guard(ctx, p.storeBreaker, func(ctx context.Context) error {
		var err error
		pending, err = p.store.UnpublishedAlerts(ctx, projectID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load unpublished alerts: %w", err)
	}
	published, pubErr := p.publish(ctx, projectID, ev.CorrelationID, pending)

	// 8. Mark published
	if len(published) > 0 {
		err = guard(ctx, p.storeBreaker, func(ctx context.Context) error {
			return p.store.MarkPublished(ctx, published, now)
		})
		if err != nil {
			return fmt.Errorf("failed to mark alerts published: %w", err)
		}
	}
	if pubErr != nil {
		return pubErr
	}

	log.InfoContext(ctx, "snapshot processed",
		"overall_risk", report.Risk.OverallRisk,
		"highest_severity", report.HighestSeverity(),
		"new_alerts", len(fresh),
		"escalated", len(escalated),
		"published", len(published),
	)
	return nil
}

// publish sends alerts in order and stops at the first failure. It returns
// the IDs that were sent.
func (p *Processor) publish(ctx context.Context, projectID, correlationID string, alerts []models.Alert) ([]uuid.UUID, error) {
	var sent []uuid.UUID
	for _, a := range alerts {
		event, err := kafka.NewEvent(kafka.EventAlert, Source, AlertEvent{
			ProjectID:     projectID,
			CorrelationID: correlationID,
			Escalated:     a.EscalatedFrom != nil,
			Alert:         a,
		})
		if err != nil {
			return sent, err
		}
		err = guard(ctx, p.publishBreaker, func(ctx context.Context) error {
			return p.publisher.PublishEvent(ctx, p.alertTopic, projectID, event)
		})
		if err != nil {
			return sent, fmt.Errorf("failed to publish alert %s: %w", a.ID, err)
		}
		sent = append(sent, a.ID)
	}
	return sent, nil
}

func guard(ctx context.Context, b *resilience.Breaker, fn func(context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	return b.Do(ctx, fn)
}

func (p *Processor) decode(value []byte) (ProjectSnapshotEvent, error) {
	var env kafka.Event
	if err := json.Unmarshal(value, &env); err != nil {
		return ProjectSnapshotEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.Type != kafka.EventProjectSnapshot {
		return ProjectSnapshotEvent{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidEvent, env.Type)
	}
	var ev ProjectSnapshotEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return ProjectSnapshotEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}

// diff splits the result of escalation into the IDs it replaced and the
// derivatives it created.
func diff(before, after []models.Alert) (replaced []uuid.UUID, created []models.Alert) {
	kept := make(map[uuid.UUID]struct{}, len(after))
	was := make(map[uuid.UUID]struct{}, len(before))
	for _, a := range before {
		was[a.ID] = struct{}{}
	}
	for _, a := range after {
		kept[a.ID] = struct{}{}
		if _, ok := was[a.ID]; !ok {
			created = append(created, a)
		}
	}
	for _, a := range before {
		if _, ok := kept[a.ID]; !ok {
			replaced = append(replaced, a.ID)
		}
	}
	return replaced, created
}

// freshAlerts drops generated alerts already represented by a stored alert.
// An escalated alert covers its origin at any severity.
func freshAlerts(generated []models.Alert, stored ...[]models.Alert) []models.Alert {
	type escalatedKey struct {
		typ   models.AlertType
		title string
	}
	seen := make(map[models.AlertKey]struct{})
	escalated := make(map[escalatedKey]struct{})
	for _, set := range stored {
		for _, a := range set {
			seen[a.Key()] = struct{}{}
			if a.EscalatedFrom != nil {
				escalated[escalatedKey{a.Type, strings.TrimPrefix(a.Title, warning.EscalatedPrefix)}] = struct{}{}
			}
		}
	}
	var out []models.Alert
	for _, a := range generated {
		if _, ok := seen[a.Key()]; ok {
			continue
		}
		if _, ok := escalated[escalatedKey{a.Type, a.Title}]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}
