package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"loadguard/internal/config"
	"loadguard/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Store is the relational mart behind the pipeline. Feature rows are
// rebuilt (upserted), never mutated in place; an alert's status is the only
// field a staff action may change after insert.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveParticipation(ctx context.Context, p model.SessionParticipation) error
	UpsertWellness(ctx context.Context, w model.WellnessReading) error
	SaveFeatureRow(ctx context.Context, row model.FeatureRow) error

	// OpenAlert inserts the alert unless an open or acknowledged alert for
	// the same (tenant, athlete, policy) exists within the cooldown window.
	// The check and the insert run in one transaction so concurrent runs
	// cannot double-open. Returns false when suppressed.
	OpenAlert(ctx context.Context, alert model.Alert, cooldown time.Duration) (bool, error)
	UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, at time.Time) error

	ListFeatureRows(ctx context.Context, tenantID, athleteID string, from, to time.Time) ([]model.FeatureRow, error)
	ListAlerts(ctx context.Context, tenantID string, status model.AlertStatus, limit int) ([]model.Alert, error)
	ListAthletes(ctx context.Context, tenantID string) ([]string, error)
	LoadTimeline(ctx context.Context, tenantID, athleteID string) ([]model.SessionParticipation, []model.WellnessReading, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func decodeRules(data string) []string {
	var rules []string
	_ = json.Unmarshal([]byte(data), &rules)
	return rules
}

func sessionType(t model.SessionType) string {
	if t == "" {
		return string(model.SessionOther)
	}
	return string(t)
}

func checkTransition(from, to model.AlertStatus) error {
	switch {
	case from == model.AlertOpen && to == model.AlertAcknowledged:
	case from == model.AlertOpen && to == model.AlertClosed:
	case from == model.AlertAcknowledged && to == model.AlertClosed:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
