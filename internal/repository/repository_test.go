package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-health/pkg/engine"
	"github.com/quantumlayerhq/ql-health/pkg/models"
)

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements and serves canned payload rows.
type fakeDB struct {
	execs    []execCall
	execErr  error
	payloads [][]byte
	queryErr error
	queries  []execCall
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{payloads: f.payloads}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not used")
}

// fakeRows implements the pgx.Rows methods the repository calls.
type fakeRows struct {
	pgx.Rows
	payloads [][]byte
	current  int
	closed   bool
}

func (r *fakeRows) Next() bool {
	if r.current < len(r.payloads) {
		r.current++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	p, ok := dest[0].(*[]byte)
	if !ok {
		return errors.New("unexpected scan target")
	}
	*p = r.payloads[r.current-1]
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close() { r.closed = true }

func alert(title string, sev models.SeverityLevel) models.Alert {
	return models.Alert{
		ID:        uuid.New(),
		Type:      models.AlertTypeRiskThreshold,
		Severity:  sev,
		Title:     title,
		CreatedAt: now,
		ExpiresAt: now.Add(72 * time.Hour),
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewAlertRepository(db).Migrate(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS health_alerts")
}

func TestSaveAlerts(t *testing.T) {
	db := &fakeDB{}
	repo := NewAlertRepository(db)

	plain := alert("Risk threshold exceeded for budget", models.SeverityHigh)
	esc := alert("ESCALATED: Risk threshold exceeded for budget", models.SeverityCritical)
	esc.EscalatedFrom = &plain.ID

	require.NoError(t, repo.SaveAlerts(context.Background(), "proj-1", []models.Alert{plain, esc}))
	require.Len(t, db.execs, 2)

	args := db.execs[0].args
	assert.Equal(t, plain.ID.String(), args[0])
	assert.Equal(t, "proj-1", args[1])
	assert.Equal(t, "risk_threshold", args[2])
	assert.Equal(t, "high", args[3])
	assert.Nil(t, args[5])

	var decoded models.Alert
	require.NoError(t, json.Unmarshal(args[4].([]byte), &decoded))
	assert.Equal(t, plain.ID, decoded.ID)

	from := db.execs[1].args[5].(*string)
	assert.Equal(t, plain.ID.String(), *from)
}

func TestSaveAlerts_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	repo := NewAlertRepository(&fakeDB{execErr: boom})
	err := repo.SaveAlerts(context.Background(), "p", []models.Alert{alert("a", models.SeverityLow)})
	assert.ErrorIs(t, err, boom)
}

func TestActiveAlerts(t *testing.T) {
	a := alert("first", models.SeverityHigh)
	b := alert("second", models.SeverityMedium)
	pa, _ := json.Marshal(a)
	pb, _ := json.Marshal(b)

	db := &fakeDB{payloads: [][]byte{pa, pb}}
	got, err := NewAlertRepository(db).ActiveAlerts(context.Background(), "proj-1", now)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, "second", got[1].Title)
	assert.Equal(t, []any{"proj-1", now}, db.queries[0].args)
}

func TestActiveAlerts_Errors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewAlertRepository(&fakeDB{queryErr: boom}).ActiveAlerts(context.Background(), "p", now)
	assert.ErrorIs(t, err, boom)

	_, err = NewAlertRepository(&fakeDB{payloads: [][]byte{[]byte("{not json")}}).ActiveAlerts(context.Background(), "p", now)
	assert.Error(t, err)
}

func TestSupersede(t *testing.T) {
	db := &fakeDB{}
	repo := NewAlertRepository(db)

	require.NoError(t, repo.Supersede(context.Background(), nil, now))
	assert.Empty(t, db.execs)

	id := uuid.New()
	require.NoError(t, repo.Supersede(context.Background(), []uuid.UUID{id}, now))
	require.Len(t, db.execs, 1)
	assert.Equal(t, []string{id.String()}, db.execs[0].args[0])
	assert.Equal(t, now, db.execs[0].args[1])
}

func TestUnpublishedAlerts(t *testing.T) {
	a := alert("pending", models.SeverityHigh)
	pa, _ := json.Marshal(a)

	db := &fakeDB{payloads: [][]byte{pa}}
	got, err := NewAlertRepository(db).UnpublishedAlerts(context.Background(), "proj-1")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Contains(t, db.queries[0].sql, "published_at IS NULL")
	assert.Equal(t, []any{"proj-1"}, db.queries[0].args)

	boom := errors.New("boom")
	_, err = NewAlertRepository(&fakeDB{queryErr: boom}).UnpublishedAlerts(context.Background(), "p")
	assert.ErrorIs(t, err, boom)
}

func TestMarkPublished(t *testing.T) {
	db := &fakeDB{}
	repo := NewAlertRepository(db)

	require.NoError(t, repo.MarkPublished(context.Background(), nil, now))
	assert.Empty(t, db.execs)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, repo.MarkPublished(context.Background(), ids, now))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "SET published_at = $2")
	assert.Equal(t, []string{ids[0].String(), ids[1].String()}, db.execs[0].args[0])
	assert.Equal(t, now, db.execs[0].args[1])

	boom := errors.New("boom")
	err := NewAlertRepository(&fakeDB{execErr: boom}).MarkPublished(context.Background(), ids, now)
	assert.ErrorIs(t, err, boom)
}

func TestSaveAssessment(t *testing.T) {
	db := &fakeDB{}
	report := engine.Report{
		ProjectID:   "proj-1",
		Risk:        models.RiskAssessment{OverallRisk: 0.42, Level: models.SeverityMedium},
		GeneratedAt: now,
	}
	require.NoError(t, NewAlertRepository(db).SaveAssessment(context.Background(), report))
	require.Len(t, db.execs, 1)

	args := db.execs[0].args
	assert.Equal(t, "proj-1", args[1])
	assert.Equal(t, 0.42, args[2])
	assert.Equal(t, "medium", args[3])
	assert.Equal(t, now, args[5])
}

// fakeTx is a transaction backed by a fakeDB.
type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakePool struct {
	fakeDB
	tx *fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return p.tx, nil }

func TestPersist_UsesTransaction(t *testing.T) {
	inner := &fakeDB{}
	pool := &fakePool{tx: &fakeTx{db: inner}}
	repo := NewAlertRepository(pool)

	err := repo.Persist(context.Background(), PersistParams{
		ProjectID:  "proj-1",
		Superseded: []uuid.UUID{uuid.New()},
		Alerts:     []models.Alert{alert("a", models.SeverityHigh)},
		Report:     engine.Report{ProjectID: "proj-1", GeneratedAt: now},
		At:         now,
	})
	require.NoError(t, err)

	assert.True(t, pool.tx.committed)
	assert.False(t, pool.tx.rolledBack)
	assert.Empty(t, pool.execs)
	require.Len(t, inner.execs, 3)
	assert.Contains(t, inner.execs[0].sql, "UPDATE health_alerts")
	assert.Contains(t, inner.execs[1].sql, "INSERT INTO health_alerts")
	assert.Contains(t, inner.execs[2].sql, "INSERT INTO health_assessments")
}

func TestPersist_RollsBackOnError(t *testing.T) {
	inner := &fakeDB{execErr: errors.New("boom")}
	pool := &fakePool{tx: &fakeTx{db: inner}}

	err := NewAlertRepository(pool).Persist(context.Background(), PersistParams{
		ProjectID: "proj-1",
		Alerts:    []models.Alert{alert("a", models.SeverityHigh)},
		At:        now,
	})
	require.Error(t, err)
	assert.True(t, pool.tx.rolledBack)
	assert.False(t, pool.tx.committed)
}

func TestPersist_WithoutTransaction(t *testing.T) {
	db := &fakeDB{}
	err := NewAlertRepository(db).Persist(context.Background(), PersistParams{
		ProjectID: "proj-1",
		Report:    engine.Report{ProjectID: "proj-1"},
		At:        now,
	})
	require.NoError(t, err)
	require.Len(t, db.execs, 1)
}
