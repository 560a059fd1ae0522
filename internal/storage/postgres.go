package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"loadguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/loadguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_participation (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			session_type TEXT NOT NULL DEFAULT 'other',
			event_date DATE NOT NULL,
			rpe DOUBLE PRECISION NOT NULL,
			minutes DOUBLE PRECISION NOT NULL,
			load DOUBLE PRECISION NOT NULL,
			UNIQUE (tenant_id, athlete_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participation_athlete_date
			ON session_participation(tenant_id, athlete_id, event_date)`,
		`CREATE TABLE IF NOT EXISTS wellness_readings (
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			event_date DATE NOT NULL,
			metric TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, athlete_id, event_date, metric)
		)`,
		`CREATE TABLE IF NOT EXISTS feature_rows (
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			event_date DATE NOT NULL,
			acute_load_7d DOUBLE PRECISION,
			chronic_load_28d DOUBLE PRECISION,
			chronic_samples INTEGER NOT NULL,
			acwr_7_28 DOUBLE PRECISION,
			wellness_composite DOUBLE PRECISION,
			wellness_deviation DOUBLE PRECISION,
			wellness_drop_days INTEGER NOT NULL,
			readiness_score DOUBLE PRECISION,
			PRIMARY KEY (tenant_id, athlete_id, event_date)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			session_id TEXT,
			policy_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			event_date DATE NOT NULL,
			rules_json JSONB NOT NULL,
			features_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedupe
			ON alerts(tenant_id, athlete_id, policy_id, status, opened_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveParticipation(ctx context.Context, p model.SessionParticipation) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_participation (tenant_id, athlete_id, session_id, session_type, event_date, rpe, minutes, load)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, athlete_id, session_id) DO NOTHING`,
		p.TenantID, p.AthleteID, p.SessionID, sessionType(p.Type),
		model.Day(p.Date), p.RPE, p.Minutes, p.Load,
	)
	return err
}

func (s *postgresStore) UpsertWellness(ctx context.Context, w model.WellnessReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wellness_readings (tenant_id, athlete_id, event_date, metric, value, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, athlete_id, event_date, metric) DO UPDATE
			SET value = excluded.value, computed_at = excluded.computed_at
			WHERE excluded.computed_at >= wellness_readings.computed_at`,
		w.TenantID, w.AthleteID, model.Day(w.EventDate), w.Metric, w.Value, w.ComputedAt.UTC(),
	)
	return err
}

func (s *postgresStore) SaveFeatureRow(ctx context.Context, row model.FeatureRow) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_rows (tenant_id, athlete_id, event_date, acute_load_7d, chronic_load_28d,
			chronic_samples, acwr_7_28, wellness_composite, wellness_deviation, wellness_drop_days, readiness_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, athlete_id, event_date) DO UPDATE SET
			acute_load_7d = excluded.acute_load_7d,
			chronic_load_28d = excluded.chronic_load_28d,
			chronic_samples = excluded.chronic_samples,
			acwr_7_28 = excluded.acwr_7_28,
			wellness_composite = excluded.wellness_composite,
			wellness_deviation = excluded.wellness_deviation,
			wellness_drop_days = excluded.wellness_drop_days,
			readiness_score = excluded.readiness_score`,
		row.TenantID, row.AthleteID, model.Day(row.EventDate),
		nullFloat(row.AcuteLoad7d), nullFloat(row.ChronicLoad28d), row.ChronicSamples,
		nullFloat(row.ACWR728), nullFloat(row.WellnessComposite), nullFloat(row.WellnessDeviation),
		row.WellnessDropDays, nullFloat(row.ReadinessScore),
	)
	return err
}

func (s *postgresStore) OpenAlert(ctx context.Context, alert model.Alert, cooldown time.Duration) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := alert.OpenedAt.UTC().Add(-cooldown)
	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM alerts
		WHERE tenant_id = $1 AND athlete_id = $2 AND policy_id = $3
			AND status IN ('open', 'acknowledged') AND opened_at > $4
		LIMIT 1 FOR UPDATE`,
		alert.TenantID, alert.AthleteID, alert.PolicyID, cutoff,
	).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (id, tenant_id, athlete_id, session_id, policy_id, severity, status,
			opened_at, closed_at, event_date, rules_json, features_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10, $11)`,
		alert.ID, alert.TenantID, alert.AthleteID, alert.SessionID, alert.PolicyID,
		string(alert.Severity), string(alert.Status), alert.OpenedAt.UTC(),
		model.Day(alert.EventDate), encodeJSON(alert.Rules), encodeJSON(alert.Features),
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *postgresStore) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, at time.Time) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := checkTransition(model.AlertStatus(current), status); err != nil {
		return err
	}
	var closedAt any
	if status == model.AlertClosed {
		closedAt = at.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = $1, closed_at = $2 WHERE id = $3`,
		string(status), closedAt, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *postgresStore) ListFeatureRows(ctx context.Context, tenantID, athleteID string, from, to time.Time) ([]model.FeatureRow, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, athlete_id, event_date, acute_load_7d, chronic_load_28d, chronic_samples,
			acwr_7_28, wellness_composite, wellness_deviation, wellness_drop_days, readiness_score
		FROM feature_rows
		WHERE tenant_id = $1 AND athlete_id = $2 AND event_date >= $3 AND event_date <= $4
		ORDER BY event_date`,
		tenantID, athleteID, model.Day(from), model.Day(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.FeatureRow, 0)
	for rows.Next() {
		var fr model.FeatureRow
		var acute, chronic, acwr, composite, deviation, readiness sql.NullFloat64
		if err := rows.Scan(&fr.TenantID, &fr.AthleteID, &fr.EventDate, &acute, &chronic,
			&fr.ChronicSamples, &acwr, &composite, &deviation, &fr.WellnessDropDays, &readiness); err != nil {
			return nil, err
		}
		fr.AcuteLoad7d = floatPtr(acute)
		fr.ChronicLoad28d = floatPtr(chronic)
		fr.ACWR728 = floatPtr(acwr)
		fr.WellnessComposite = floatPtr(composite)
		fr.WellnessDeviation = floatPtr(deviation)
		fr.ReadinessScore = floatPtr(readiness)
		out = append(out, fr)
	}
	return out, rows.Err()
}

func (s *postgresStore) ListAlerts(ctx context.Context, tenantID string, status model.AlertStatus, limit int) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, tenant_id, athlete_id, COALESCE(session_id, ''), policy_id, severity, status,
			opened_at, closed_at, event_date, rules_json
		FROM alerts WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2 ORDER BY opened_at DESC LIMIT $3`
		args = append(args, string(status), limit)
	} else {
		query += ` ORDER BY opened_at DESC LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *postgresStore) ListAthletes(ctx context.Context, tenantID string) ([]string, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT athlete_id FROM session_participation WHERE tenant_id = $1
		UNION
		SELECT athlete_id FROM wellness_readings WHERE tenant_id = $1
		ORDER BY athlete_id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *postgresStore) LoadTimeline(ctx context.Context, tenantID, athleteID string) ([]model.SessionParticipation, []model.WellnessReading, error) {
	if s.db == nil {
		return nil, nil, nil
	}
	parts := make([]model.SessionParticipation, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, athlete_id, session_id, session_type, event_date, rpe, minutes, load
		FROM session_participation
		WHERE tenant_id = $1 AND athlete_id = $2 ORDER BY event_date`,
		tenantID, athleteID,
	)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var p model.SessionParticipation
		var sessType string
		if err := rows.Scan(&p.TenantID, &p.AthleteID, &p.SessionID, &sessType, &p.Date, &p.RPE, &p.Minutes, &p.Load); err != nil {
			rows.Close()
			return nil, nil, err
		}
		p.Type = model.SessionType(sessType)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	wells := make([]model.WellnessReading, 0)
	rows, err = s.db.QueryContext(ctx,
		`SELECT tenant_id, athlete_id, event_date, metric, value, computed_at
		FROM wellness_readings
		WHERE tenant_id = $1 AND athlete_id = $2 ORDER BY event_date`,
		tenantID, athleteID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var w model.WellnessReading
		if err := rows.Scan(&w.TenantID, &w.AthleteID, &w.EventDate, &w.Metric, &w.Value, &w.ComputedAt); err != nil {
			return nil, nil, err
		}
		wells = append(wells, w)
	}
	return parts, wells, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	out := make([]model.Alert, 0)
	for rows.Next() {
		var a model.Alert
		var severity, status, rulesJSON string
		var closedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AthleteID, &a.SessionID, &a.PolicyID,
			&severity, &status, &a.OpenedAt, &closedAt, &a.EventDate, &rulesJSON); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(severity)
		a.Status = model.AlertStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			a.ClosedAt = &t
		}
		a.Rules = decodeRules(rulesJSON)
		out = append(out, a)
	}
	return out, rows.Err()
}
