package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-health/internal/repository"
	"github.com/quantumlayerhq/ql-health/pkg/config"
	"github.com/quantumlayerhq/ql-health/pkg/engine"
	"github.com/quantumlayerhq/ql-health/pkg/kafka"
	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/metrics"
	"github.com/quantumlayerhq/ql-health/pkg/models"
	"github.com/quantumlayerhq/ql-health/pkg/resilience"
)

const (
	snapshotTopic = "health.snapshots"
	alertTopic    = "health.alerts"
	budgetTitle   = "Risk threshold exceeded for budget"
)

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// fakeStore keeps alerts in memory the way AlertRepository keeps them in
// Postgres: persisted alerts become active and stay unpublished until marked.
type fakeStore struct {
	active    []models.Alert
	activeErr error
	calls     int
	persisted []repository.PersistParams
	pending   []models.Alert
	published []uuid.UUID
}

func (s *fakeStore) ActiveAlerts(_ context.Context, _ string, _ time.Time) ([]models.Alert, error) {
	s.calls++
	return s.active, s.activeErr
}

func (s *fakeStore) Persist(_ context.Context, p repository.PersistParams) error {
	s.persisted = append(s.persisted, p)
	s.active = slices.DeleteFunc(slices.Clone(s.active), func(a models.Alert) bool {
		return slices.Contains(p.Superseded, a.ID)
	})
	s.active = append(s.active, p.Alerts...)
	s.pending = append(s.pending, p.Alerts...)
	return nil
}

func (s *fakeStore) UnpublishedAlerts(_ context.Context, _ string) ([]models.Alert, error) {
	return slices.Clone(s.pending), nil
}

func (s *fakeStore) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	s.published = append(s.published, ids...)
	s.pending = slices.DeleteFunc(s.pending, func(a models.Alert) bool {
		return slices.Contains(ids, a.ID)
	})
	return nil
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	cfg.Risk.MonteCarloSeed = 3
	cfg.Risk.MonteCarloTrials = 100
	e, err := engine.New(cfg, nil, engine.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return e
}

func snapshotMessage(t *testing.T, ev ProjectSnapshotEvent) kafka.Message {
	t.Helper()
	env, err := kafka.NewEvent(kafka.EventProjectSnapshot, "test", ev)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: snapshotTopic, Key: ev.ProjectID, Value: raw}
}

func budgetSnapshot() ProjectSnapshotEvent {
	return ProjectSnapshotEvent{
		Snapshot: engine.Snapshot{
			ProjectID: "proj-7",
			RiskIndicators: []models.RiskIndicator{
				{Name: "budget", CurrentValue: 18, Threshold: 10, Trend: models.TrendStable, Weight: 1},
			},
		},
		CorrelationID: "corr-1",
	}
}

func alertChecker(escalated bool, title string) func([]byte) error {
	return func(val []byte) error {
		var env kafka.Event
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		var ae AlertEvent
		if err := json.Unmarshal(env.Data, &ae); err != nil {
			return err
		}
		if env.Type != kafka.EventAlert || ae.ProjectID != "proj-7" || ae.CorrelationID != "corr-1" {
			return fmt.Errorf("unexpected envelope %+v", ae)
		}
		if ae.Escalated != escalated || ae.Alert.Title != title {
			return fmt.Errorf("unexpected alert %q escalated=%v", ae.Alert.Title, ae.Escalated)
		}
		return nil
	}
}

func TestHandle_NewAlertIsPersistedAndPublished(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(alertChecker(false, budgetTitle))
	defer func() { require.NoError(t, sp.Close()) }()

	store := &fakeStore{}
	m := metrics.New(prometheus.NewRegistry())
	p := NewProcessor(newEngine(t), store, kafka.NewProducerFromSync(sp, nil), alertTopic, m, nil)

	require.NoError(t, p.Handle(context.Background(), snapshotMessage(t, budgetSnapshot())))

	require.Len(t, store.persisted, 1)
	got := store.persisted[0]
	assert.Equal(t, "proj-7", got.ProjectID)
	assert.Empty(t, got.Superseded)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, models.SeverityHigh, got.Alerts[0].Severity)
	assert.Equal(t, "proj-7", got.Report.ProjectID)
	assert.Equal(t, now, got.At)
	assert.Equal(t, []uuid.UUID{got.Alerts[0].ID}, store.published)
	assert.Empty(t, store.pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues(StatusProcessed)))
}

func TestHandle_RedeliveryPublishesAlertsLeftUnpublished(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(alertChecker(false, budgetTitle))
	defer func() { require.NoError(t, sp.Close()) }()

	store := &fakeStore{}
	p := NewProcessor(newEngine(t), store, kafka.NewProducerFromSync(sp, nil), alertTopic, nil, nil)
	msg := snapshotMessage(t, budgetSnapshot())

	err := p.Handle(context.Background(), msg)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.Len(t, store.pending, 1)
	assert.Empty(t, store.published)
	stored := store.pending[0].ID

	require.NoError(t, p.Handle(context.Background(), msg))
	require.Len(t, store.persisted, 2)
	assert.Empty(t, store.persisted[1].Alerts, "the regenerated alert is already stored")
	assert.Equal(t, []uuid.UUID{stored}, store.published)
	assert.Empty(t, store.pending)
}

func TestHandle_StaleAlertIsEscalated(t *testing.T) {
	stale := models.Alert{
		ID:        uuid.New(),
		Type:      models.AlertTypeRiskThreshold,
		Severity:  models.SeverityHigh,
		Title:     budgetTitle,
		Metric:    "budget",
		CreatedAt: now.Add(-25 * time.Hour),
		ExpiresAt: now.Add(47 * time.Hour),
	}

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(alertChecker(true, "ESCALATED: "+budgetTitle))
	defer func() { require.NoError(t, sp.Close()) }()

	store := &fakeStore{active: []models.Alert{stale}}
	p := NewProcessor(newEngine(t), store, kafka.NewProducerFromSync(sp, nil), alertTopic, nil, nil)

	require.NoError(t, p.Handle(context.Background(), snapshotMessage(t, budgetSnapshot())))

	require.Len(t, store.persisted, 1)
	got := store.persisted[0]
	assert.Equal(t, []uuid.UUID{stale.ID}, got.Superseded)
	require.Len(t, got.Alerts, 1, "regenerated alert is covered by the escalation")
	esc := got.Alerts[0]
	assert.Equal(t, models.SeverityCritical, esc.Severity)
	require.NotNil(t, esc.EscalatedFrom)
	assert.Equal(t, stale.ID, *esc.EscalatedFrom)
	assert.Equal(t, now.Add(12*time.Hour), esc.ExpiresAt)
	assert.Equal(t, []uuid.UUID{esc.ID}, store.published)
}

func TestHandle_EscalatedAlertSuppressesRegeneration(t *testing.T) {
	origin := uuid.New()
	esc := models.Alert{
		ID:            uuid.New(),
		Type:          models.AlertTypeRiskThreshold,
		Severity:      models.SeverityCritical,
		Title:         "ESCALATED: " + budgetTitle,
		CreatedAt:     now.Add(-time.Hour),
		ExpiresAt:     now.Add(11 * time.Hour),
		EscalatedFrom: &origin,
	}

	sp := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, sp.Close()) }()

	store := &fakeStore{active: []models.Alert{esc}}
	p := NewProcessor(newEngine(t), store, kafka.NewProducerFromSync(sp, nil), alertTopic, nil, nil)

	require.NoError(t, p.Handle(context.Background(), snapshotMessage(t, budgetSnapshot())))
	require.Len(t, store.persisted, 1)
	assert.Empty(t, store.persisted[0].Alerts)
	assert.Empty(t, store.persisted[0].Superseded)
}

func TestHandle_InvalidEvents(t *testing.T) {
	wrongType, err := kafka.NewEvent(kafka.EventAlert, "test", budgetSnapshot())
	require.NoError(t, err)
	wrongTypeRaw, err := json.Marshal(wrongType)
	require.NoError(t, err)

	noProject := budgetSnapshot()
	noProject.ProjectID = ""

	badWeight := budgetSnapshot()
	badWeight.RiskIndicators[0].Weight = 2

	tests := []struct {
		name string
		msg  kafka.Message
	}{
		{name: "not json", msg: kafka.Message{Topic: snapshotTopic, Value: []byte("{")}},
		{name: "wrong event type", msg: kafka.Message{Topic: snapshotTopic, Value: wrongTypeRaw}},
		{name: "missing project", msg: snapshotMessage(t, noProject)},
		{name: "weight out of range", msg: snapshotMessage(t, badWeight)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			m := metrics.New(prometheus.NewRegistry())
			p := NewProcessor(newEngine(t), store, nil, alertTopic, m, nil)

			err := p.Handle(context.Background(), tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Empty(t, store.persisted)

			assert.NoError(t, p.Consume(context.Background(), tt.msg))
			assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues(StatusInvalid)))
		})
	}
}

func TestConsume_PropagatesStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	m := metrics.New(prometheus.NewRegistry())
	p := NewProcessor(newEngine(t), &fakeStore{activeErr: boom}, nil, alertTopic, m, nil)

	err := p.Consume(context.Background(), snapshotMessage(t, budgetSnapshot()))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, strings.Contains(err.Error(), "active alerts"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues(StatusFailed)))
}

func TestFreshAlerts(t *testing.T) {
	high := models.Alert{Type: models.AlertTypeVelocityDrop, Severity: models.SeverityHigh, Title: "Velocity drop in points"}
	other := models.Alert{Type: models.AlertTypeVelocityDrop, Severity: models.SeverityHigh, Title: "Velocity drop in hours"}

	assert.Equal(t, []models.Alert{other}, freshAlerts([]models.Alert{high, other}, []models.Alert{high}))
	assert.Len(t, freshAlerts([]models.Alert{high, other}), 2)
}

func TestHandle_StoreBreakerFailsFast(t *testing.T) {
	store := &fakeStore{activeErr: errors.New("connection refused")}
	breaker := resilience.New(resilience.Config{Name: "store", MaxFailures: 2, OpenTimeout: time.Minute})
	p := NewProcessor(newEngine(t), store, nil, alertTopic, nil, nil, WithBreakers(breaker, nil))

	msg := snapshotMessage(t, budgetSnapshot())
	for i := 0; i < 2; i++ {
		require.Error(t, p.Handle(context.Background(), msg))
	}
	assert.Equal(t, resilience.StateOpen, breaker.State())

	err := p.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 2, store.calls)
}

func TestHandle_LogsProjectAndCorrelation(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()
	defer func() { require.NoError(t, sp.Close()) }()

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")
	p := NewProcessor(newEngine(t), &fakeStore{}, kafka.NewProducerFromSync(sp, nil), alertTopic, nil, log)

	require.NoError(t, p.Handle(context.Background(), snapshotMessage(t, budgetSnapshot())))

	out := buf.String()
	assert.Contains(t, out, `"msg":"snapshot processed"`)
	assert.Contains(t, out, `"project_id":"proj-7"`)
	assert.Contains(t, out, `"request_id":"corr-1"`)
	assert.Contains(t, out, `"component":"snapshot-processor"`)
}
