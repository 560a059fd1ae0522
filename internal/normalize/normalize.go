package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loadguard/internal/config"
	"loadguard/internal/model"
)

// RecordFields is the untyped field bag extracted by an ingest source
// before validation.
type RecordFields struct {
	Kind        string
	TenantID    string
	AthleteID   string
	SessionID   string
	SessionType string
	EventDate   string
	RPE         string
	Minutes     string
	Load        string
	Metric      string
	Value       string
	ComputedAt  string
	Extras      map[string]string
	Raw         string
}

var metricAliases = map[string]string{
	"sleep":           "sleep",
	"sleep_quality":   "sleep",
	"soreness":        "soreness",
	"muscle_soreness": "soreness",
	"stress":          "stress",
	"mood":            "mood",
}

// CanonicalMetric maps reported metric names onto the closed metric set.
func CanonicalMetric(name string) (string, bool) {
	m, ok := metricAliases[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Normalize validates a field bag into a typed record. Kind is inferred from
// the presence of a metric when not stated.
func Normalize(fields RecordFields, cfg *config.Config) (model.Record, error) {
	tenant := strings.TrimSpace(fields.TenantID)
	if tenant == "" {
		tenant = cfg.Ingest.Parser.DefaultTenantID
	}
	athlete := strings.TrimSpace(fields.AthleteID)
	if athlete == "" {
		return model.Record{}, errors.New("missing athlete_id")
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	eventDate := time.Now().UTC()
	if fields.EventDate != "" {
		parsed, err := ParseTimestamp(fields.EventDate, loc)
		if err != nil {
			return model.Record{}, fmt.Errorf("parse event date: %w", err)
		}
		eventDate = parsed.UTC()
	}

	kind := strings.ToLower(strings.TrimSpace(fields.Kind))
	if kind == "" {
		if fields.Metric != "" {
			kind = string(model.KindWellness)
		} else {
			kind = string(model.KindParticipation)
		}
	}

	switch model.RecordKind(kind) {
	case model.KindWellness:
		return normalizeWellness(fields, tenant, athlete, eventDate, loc)
	case model.KindParticipation, "session":
		return normalizeParticipation(fields, tenant, athlete, eventDate)
	default:
		return model.Record{}, fmt.Errorf("unknown record kind %q", kind)
	}
}

func normalizeWellness(fields RecordFields, tenant, athlete string, eventDate time.Time, loc *time.Location) (model.Record, error) {
	metric, ok := CanonicalMetric(fields.Metric)
	if !ok {
		return model.Record{}, fmt.Errorf("unknown wellness metric %q", fields.Metric)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(fields.Value), 64)
	if err != nil {
		return model.Record{}, fmt.Errorf("parse wellness value: %w", err)
	}
	computedAt := time.Now().UTC()
	if fields.ComputedAt != "" {
		parsed, err := ParseTimestamp(fields.ComputedAt, loc)
		if err != nil {
			return model.Record{}, fmt.Errorf("parse computed_at: %w", err)
		}
		computedAt = parsed.UTC()
	}
	return model.Record{
		Kind: model.KindWellness,
		Wellness: &model.WellnessReading{
			TenantID:   tenant,
			AthleteID:  athlete,
			EventDate:  model.Day(eventDate),
			Metric:     metric,
			Value:      value,
			ComputedAt: computedAt,
		},
	}, nil
}

func normalizeParticipation(fields RecordFields, tenant, athlete string, eventDate time.Time) (model.Record, error) {
	session := strings.TrimSpace(fields.SessionID)
	if session == "" {
		return model.Record{}, errors.New("missing session_id")
	}
	rpe := parseFloatDefault(fields.RPE, 0)
	if rpe < 0 {
		rpe = 0
	}
	if rpe > 10 {
		rpe = 10
	}
	minutes := parseFloatDefault(fields.Minutes, 0)
	if minutes < 0 {
		return model.Record{}, errors.New("negative minutes")
	}
	load := parseFloatDefault(fields.Load, 0)
	if load < 0 {
		return model.Record{}, errors.New("negative load")
	}
	return model.Record{
		Kind: model.KindParticipation,
		Participation: &model.SessionParticipation{
			TenantID:  tenant,
			AthleteID: athlete,
			SessionID: session,
			Date:      model.Day(eventDate),
			Type:      ParseSessionType(fields.SessionType),
			RPE:       rpe,
			Minutes:   minutes,
			Load:      load,
		},
	}, nil
}

// ParseSessionType is lenient: anything unrecognized is "other".
func ParseSessionType(value string) model.SessionType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "training", "practice":
		return model.SessionTraining
	case "match", "game":
		return model.SessionMatch
	case "recovery":
		return model.SessionRecovery
	}
	return model.SessionOther
}

func parseFloatDefault(value string, def float64) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return f
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
