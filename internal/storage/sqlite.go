package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loadguard/internal/model"
)

const dayLayout = "2006-01-02"

// Fixed-width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:loadguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Serialized writes keep the OpenAlert read-then-insert atomic.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_participation (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			session_type TEXT NOT NULL DEFAULT 'other',
			event_date TEXT NOT NULL,
			rpe REAL NOT NULL,
			minutes REAL NOT NULL,
			load REAL NOT NULL,
			UNIQUE (tenant_id, athlete_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participation_athlete_date
			ON session_participation(tenant_id, athlete_id, event_date)`,
		`CREATE TABLE IF NOT EXISTS wellness_readings (
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			event_date TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			computed_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, athlete_id, event_date, metric)
		)`,
		`CREATE TABLE IF NOT EXISTS feature_rows (
			tenant_id TEXT NOT NULL,
			athlete_id TEXT NOT NULL,
			event_date TEXT NOT NULL,
			acute_load_7d REAL,
			chronic_load_28d REAL,
			chronic_samples INTEGER NOT NULL,
			acwr_7_28 REAL,
			wellness_composite REAL,
			wellness_deviation REAL,
			wellness_drop_days INTEGER NOT NULL,
			readiness_score REAL,
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
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			event_date TEXT NOT NULL,
			rules_json TEXT NOT NULL,
			features_json TEXT NOT NULL
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

func (s *sqliteStore) SaveParticipation(ctx context.Context, p model.SessionParticipation) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_participation (tenant_id, athlete_id, session_id, session_type, event_date, rpe, minutes, load)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, athlete_id, session_id) DO NOTHING`,
		p.TenantID, p.AthleteID, p.SessionID, sessionType(p.Type),
		model.Day(p.Date).Format(dayLayout), p.RPE, p.Minutes, p.Load,
	)
	return err
}

func (s *sqliteStore) UpsertWellness(ctx context.Context, w model.WellnessReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wellness_readings (tenant_id, athlete_id, event_date, metric, value, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, athlete_id, event_date, metric) DO UPDATE
			SET value = excluded.value, computed_at = excluded.computed_at
			WHERE excluded.computed_at >= wellness_readings.computed_at`,
		w.TenantID, w.AthleteID, model.Day(w.EventDate).Format(dayLayout), w.Metric, w.Value,
		w.ComputedAt.UTC().Format(tsLayout),
	)
	return err
}

func (s *sqliteStore) SaveFeatureRow(ctx context.Context, row model.FeatureRow) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_rows (tenant_id, athlete_id, event_date, acute_load_7d, chronic_load_28d,
			chronic_samples, acwr_7_28, wellness_composite, wellness_deviation, wellness_drop_days, readiness_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, athlete_id, event_date) DO UPDATE SET
			acute_load_7d = excluded.acute_load_7d,
			chronic_load_28d = excluded.chronic_load_28d,
			chronic_samples = excluded.chronic_samples,
			acwr_7_28 = excluded.acwr_7_28,
			wellness_composite = excluded.wellness_composite,
			wellness_deviation = excluded.wellness_deviation,
			wellness_drop_days = excluded.wellness_drop_days,
			readiness_score = excluded.readiness_score`,
		row.TenantID, row.AthleteID, model.Day(row.EventDate).Format(dayLayout),
		nullFloat(row.AcuteLoad7d), nullFloat(row.ChronicLoad28d), row.ChronicSamples,
		nullFloat(row.ACWR728), nullFloat(row.WellnessComposite), nullFloat(row.WellnessDeviation),
		row.WellnessDropDays, nullFloat(row.ReadinessScore),
	)
	return err
}

func (s *sqliteStore) OpenAlert(ctx context.Context, alert model.Alert, cooldown time.Duration) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := alert.OpenedAt.UTC().Add(-cooldown).Format(tsLayout)
	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM alerts
		WHERE tenant_id = ? AND athlete_id = ? AND policy_id = ?
			AND status IN ('open', 'acknowledged') AND opened_at > ?
		LIMIT 1`,
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		alert.ID, alert.TenantID, alert.AthleteID, alert.SessionID, alert.PolicyID,
		string(alert.Severity), string(alert.Status), alert.OpenedAt.UTC().Format(tsLayout),
		model.Day(alert.EventDate).Format(dayLayout), encodeJSON(alert.Rules), encodeJSON(alert.Features),
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *sqliteStore) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, at time.Time) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&current)
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
		closedAt = at.UTC().Format(tsLayout)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, closed_at = ? WHERE id = ?`,
		string(status), closedAt, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListFeatureRows(ctx context.Context, tenantID, athleteID string, from, to time.Time) ([]model.FeatureRow, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, athlete_id, event_date, acute_load_7d, chronic_load_28d, chronic_samples,
			acwr_7_28, wellness_composite, wellness_deviation, wellness_drop_days, readiness_score
		FROM feature_rows
		WHERE tenant_id = ? AND athlete_id = ? AND event_date >= ? AND event_date <= ?
		ORDER BY event_date`,
		tenantID, athleteID, model.Day(from).Format(dayLayout), model.Day(to).Format(dayLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.FeatureRow, 0)
	for rows.Next() {
		var fr model.FeatureRow
		var day string
		var acute, chronic, acwr, composite, deviation, readiness sql.NullFloat64
		if err := rows.Scan(&fr.TenantID, &fr.AthleteID, &day, &acute, &chronic,
			&fr.ChronicSamples, &acwr, &composite, &deviation, &fr.WellnessDropDays, &readiness); err != nil {
			return nil, err
		}
		fr.EventDate, _ = time.ParseInLocation(dayLayout, day, time.UTC)
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

func (s *sqliteStore) ListAlerts(ctx context.Context, tenantID string, status model.AlertStatus, limit int) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, tenant_id, athlete_id, COALESCE(session_id, ''), policy_id, severity, status,
			opened_at, closed_at, event_date, rules_json
		FROM alerts WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY opened_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		var a model.Alert
		var severity, status, rulesJSON, openedAt, day string
		var closedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AthleteID, &a.SessionID, &a.PolicyID,
			&severity, &status, &openedAt, &closedAt, &day, &rulesJSON); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(severity)
		a.Status = model.AlertStatus(status)
		a.OpenedAt, _ = time.Parse(tsLayout, openedAt)
		if closedAt.Valid {
			if t, err := time.Parse(tsLayout, closedAt.String); err == nil {
				a.ClosedAt = &t
			}
		}
		a.EventDate, _ = time.ParseInLocation(dayLayout, day, time.UTC)
		a.Rules = decodeRules(rulesJSON)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAthletes(ctx context.Context, tenantID string) ([]string, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT athlete_id FROM session_participation WHERE tenant_id = ?
		UNION
		SELECT athlete_id FROM wellness_readings WHERE tenant_id = ?
		ORDER BY athlete_id`,
		tenantID, tenantID,
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

func (s *sqliteStore) LoadTimeline(ctx context.Context, tenantID, athleteID string) ([]model.SessionParticipation, []model.WellnessReading, error) {
	if s.db == nil {
		return nil, nil, nil
	}
	parts := make([]model.SessionParticipation, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, athlete_id, session_id, session_type, event_date, rpe, minutes, load
		FROM session_participation
		WHERE tenant_id = ? AND athlete_id = ? ORDER BY event_date`,
		tenantID, athleteID,
	)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var p model.SessionParticipation
		var day, sessType string
		if err := rows.Scan(&p.TenantID, &p.AthleteID, &p.SessionID, &sessType, &day, &p.RPE, &p.Minutes, &p.Load); err != nil {
			rows.Close()
			return nil, nil, err
		}
		p.Type = model.SessionType(sessType)
		p.Date, _ = time.ParseInLocation(dayLayout, day, time.UTC)
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
		WHERE tenant_id = ? AND athlete_id = ? ORDER BY event_date`,
		tenantID, athleteID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var w model.WellnessReading
		var day, computedAt string
		if err := rows.Scan(&w.TenantID, &w.AthleteID, &day, &w.Metric, &w.Value, &computedAt); err != nil {
			return nil, nil, err
		}
		w.EventDate, _ = time.ParseInLocation(dayLayout, day, time.UTC)
		w.ComputedAt, _ = time.Parse(tsLayout, computedAt)
		wells = append(wells, w)
	}
	return parts, wells, rows.Err()
}
