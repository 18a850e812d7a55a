// Package repository persists alerts and assessments for the health service.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantumlayerhq/ql-health/pkg/database"
	"github.com/quantumlayerhq/ql-health/pkg/engine"
	"github.com/quantumlayerhq/ql-health/pkg/models"
)

// Schema creates the tables the repository writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS health_alerts (
	id             UUID PRIMARY KEY,
	project_id     TEXT NOT NULL,
	type           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	payload        JSONB NOT NULL,
	escalated_from UUID,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	superseded_at  TIMESTAMPTZ,
	published_at   TIMESTAMPTZ
);
ALTER TABLE health_alerts ADD COLUMN IF NOT EXISTS published_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_health_alerts_active
	ON health_alerts (project_id, expires_at) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_health_alerts_unpublished
	ON health_alerts (project_id, created_at) WHERE published_at IS NULL AND superseded_at IS NULL;

CREATE TABLE IF NOT EXISTS health_assessments (
	id           UUID PRIMARY KEY,
	project_id   TEXT NOT NULL,
	overall_risk DOUBLE PRECISION NOT NULL,
	level        TEXT NOT NULL,
	payload      JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_assessments_project
	ON health_assessments (project_id, generated_at DESC);
`

// DBTX represents a database connection or transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner is implemented by pools that can open a transaction.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AlertRepository handles database operations for alerts and assessments.
type AlertRepository struct {
	db DBTX // pool or transaction
}

// NewAlertRepository creates a new repository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// WithTx returns a repository that uses the given transaction.
func (r *AlertRepository) WithTx(tx pgx.Tx) *AlertRepository {
	return &AlertRepository{db: tx}
}

// Migrate creates the schema if it does not exist.
func (r *AlertRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveAlerts inserts alerts for a project. Alerts already stored are left unchanged.
func (r *AlertRepository) SaveAlerts(ctx context.Context, projectID string, alerts []models.Alert) error {
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %s: %w", a.ID, err)
		}
		_, err = r.db.Exec(ctx, `
			INSERT INTO health_alerts (id, project_id, type, severity, payload, escalated_from, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, a.ID.String(), projectID, string(a.Type), string(a.Severity), payload,
			escalatedFrom(a), a.CreatedAt, a.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// ActiveAlerts returns the alerts of a project that are neither expired nor
// superseded at now, oldest first.
func (r *AlertRepository) ActiveAlerts(ctx context.Context, projectID string, now time.Time) ([]models.Alert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT payload FROM health_alerts
		WHERE project_id = $1 AND superseded_at IS NULL AND expires_at > $2
		ORDER BY created_at, id
	`, projectID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	return scanAlerts(rows)
}

// UnpublishedAlerts returns the project's stored alerts that have not been
// published yet, oldest first. Superseded alerts are skipped; their
// escalation is published instead.
func (r *AlertRepository) UnpublishedAlerts(ctx context.Context, projectID string) ([]models.Alert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT payload FROM health_alerts
		WHERE project_id = $1 AND published_at IS NULL AND superseded_at IS NULL
		ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished alerts: %w", err)
	}
	return scanAlerts(rows)
}

// MarkPublished records that alerts were published at the given time.
func (r *AlertRepository) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE health_alerts SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, uuidStrings(ids), at)
	if err != nil {
		return fmt.Errorf("failed to mark alerts published: %w", err)
	}
	return nil
}

func scanAlerts(rows pgx.Rows) ([]models.Alert, error) {
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		var a models.Alert
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

// Supersede marks alerts as replaced at the given time.
func (r *AlertRepository) Supersede(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE health_alerts SET superseded_at = $2
		WHERE id = ANY($1::uuid[]) AND superseded_at IS NULL
	`, uuidStrings(ids), at)
	if err != nil {
		return fmt.Errorf("failed to supersede alerts: %w", err)
	}
	return nil
}

// SaveAssessment stores an evaluation report.
func (r *AlertRepository) SaveAssessment(ctx context.Context, report engine.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO health_assessments (id, project_id, overall_risk, level, payload, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), report.ProjectID, report.Risk.OverallRisk, string(report.Risk.Level), payload, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// PersistParams is one evaluation's worth of writes.
type PersistParams struct {
	ProjectID  string
	Superseded []uuid.UUID
	Alerts     []models.Alert
	Report     engine.Report
	At         time.Time
}

// Persist writes an evaluation in one transaction when the underlying
// connection can open one.
func (r *AlertRepository) Persist(ctx context.Context, p PersistParams) error {
	b, ok := r.db.(beginner)
	if !ok {
		return r.persist(ctx, p)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return database.RunInTx(ctx, tx, func(tx pgx.Tx) error {
		return r.WithTx(tx).persist(ctx, p)
	})
}

func (r *AlertRepository) persist(ctx context.Context, p PersistParams) error {
	if err := r.Supersede(ctx, p.Superseded, p.At); err != nil {
		return err
	}
	if err := r.SaveAlerts(ctx, p.ProjectID, p.Alerts); err != nil {
		return err
	}
	return r.SaveAssessment(ctx, p.Report)
}

func uuidStrings(ids []uuid.UUID) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}

func escalatedFrom(a models.Alert) *string {
	if a.EscalatedFrom == nil {
		return nil
	}
	s := a.EscalatedFrom.String()
	return &s
}
