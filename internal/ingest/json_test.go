package ingest

import (
	"testing"
)

func TestParseJSONBytesParticipation(t *testing.T) {
	line := `{"tenant_id":"club1","athlete_id":"a1","session_id":"s1","event_date":"2026-01-15","rpe":7,"minutes":60}`
	fields, err := ParseJSONBytes([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.TenantID != "club1" || fields.AthleteID != "a1" || fields.SessionID != "s1" {
		t.Fatalf("fields = %+v", fields)
	}
	if fields.EventDate != "2026-01-15" || fields.RPE != "7" || fields.Minutes != "60" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestParseJSONBytesAliases(t *testing.T) {
	line := `{"org_id":"club1","player_id":"a1","date":"2026-01-15","metric_name":"sleep","score":7.5,"recorded_at":"2026-01-15T08:00:00Z"}`
	fields, err := ParseJSONBytes([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.TenantID != "club1" {
		t.Fatalf("tenant via org_id = %q", fields.TenantID)
	}
	if fields.AthleteID != "a1" {
		t.Fatalf("athlete via player_id = %q", fields.AthleteID)
	}
	if fields.Metric != "sleep" || fields.Value != "7.5" {
		t.Fatalf("metric/value = %q/%q", fields.Metric, fields.Value)
	}
	if fields.ComputedAt != "2026-01-15T08:00:00Z" {
		t.Fatalf("computed_at via recorded_at = %q", fields.ComputedAt)
	}
}

func TestParseJSONBytesDurationAlias(t *testing.T) {
	line := `{"athlete_id":"a1","session_id":"s1","duration_min":45}`
	fields, err := ParseJSONBytes([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.Minutes != "45" {
		t.Fatalf("minutes via duration_min = %q", fields.Minutes)
	}
}

func TestParseJSONBytesInvalid(t *testing.T) {
	if _, err := ParseJSONBytes([]byte("not json")); err == nil {
		t.Fatalf("invalid json accepted")
	}
}
