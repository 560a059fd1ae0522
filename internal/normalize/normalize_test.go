package normalize

import (
	"testing"
	"time"

	"loadguard/internal/config"
	"loadguard/internal/model"
)

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func TestNormalizeParticipation(t *testing.T) {
	fields := RecordFields{
		TenantID:    "club1",
		AthleteID:   "a1",
		SessionID:   "s1",
		SessionType: "game",
		EventDate:   "2026-01-15",
		RPE:         "7",
		Minutes:     "60",
	}
	rec, err := Normalize(fields, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Kind != model.KindParticipation {
		t.Fatalf("kind = %v", rec.Kind)
	}
	p := rec.Participation
	if p.TenantID != "club1" || p.AthleteID != "a1" || p.SessionID != "s1" {
		t.Fatalf("participation = %+v", p)
	}
	if !p.Date.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", p.Date)
	}
	if p.Type != model.SessionMatch {
		t.Fatalf("type = %v, want match", p.Type)
	}
	if p.EffectiveLoad() != 420 {
		t.Fatalf("effective load = %v, want 420", p.EffectiveLoad())
	}
}

func TestNormalizeUpstreamLoadWins(t *testing.T) {
	fields := RecordFields{
		AthleteID: "a1",
		SessionID: "s1",
		EventDate: "2026-01-15",
		RPE:       "7",
		Minutes:   "60",
		Load:      "500",
	}
	rec, err := Normalize(fields, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Participation.EffectiveLoad() != 500 {
		t.Fatalf("effective load = %v, want upstream 500", rec.Participation.EffectiveLoad())
	}
}

func TestNormalizeWellnessKindInferred(t *testing.T) {
	fields := RecordFields{
		TenantID:   "club1",
		AthleteID:  "a1",
		EventDate:  "2026-01-15",
		Metric:     "sleep_quality",
		Value:      "7.5",
		ComputedAt: "2026-01-15T08:30:00Z",
	}
	rec, err := Normalize(fields, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Kind != model.KindWellness {
		t.Fatalf("kind = %v, want wellness", rec.Kind)
	}
	w := rec.Wellness
	if w.Metric != "sleep" {
		t.Fatalf("metric = %q, want alias mapped to sleep", w.Metric)
	}
	if w.Value != 7.5 {
		t.Fatalf("value = %v", w.Value)
	}
	if !w.EventDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("event date = %v, want truncated to the day", w.EventDate)
	}
	if !w.ComputedAt.Equal(time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("computed at = %v", w.ComputedAt)
	}
}

func TestNormalizeDefaultTenant(t *testing.T) {
	fields := RecordFields{AthleteID: "a1", SessionID: "s1", EventDate: "2026-01-15"}
	rec, err := Normalize(fields, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.TenantID() != "default" {
		t.Fatalf("tenant = %q, want configured default", rec.TenantID())
	}
}

func TestNormalizeErrors(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name   string
		fields RecordFields
	}{
		{"missing athlete", RecordFields{SessionID: "s1"}},
		{"missing session", RecordFields{AthleteID: "a1", Kind: "participation"}},
		{"unknown metric", RecordFields{AthleteID: "a1", Metric: "hydration", Value: "5"}},
		{"bad wellness value", RecordFields{AthleteID: "a1", Metric: "sleep", Value: "high"}},
		{"negative minutes", RecordFields{AthleteID: "a1", SessionID: "s1", Minutes: "-5"}},
		{"negative load", RecordFields{AthleteID: "a1", SessionID: "s1", Load: "-10"}},
		{"unknown kind", RecordFields{AthleteID: "a1", Kind: "telemetry"}},
		{"bad event date", RecordFields{AthleteID: "a1", SessionID: "s1", EventDate: "not-a-date"}},
	}
	for _, c := range cases {
		if _, err := Normalize(c.fields, cfg); err == nil {
			t.Fatalf("%s: no error", c.name)
		}
	}
}

func TestNormalizeRPEClamped(t *testing.T) {
	fields := RecordFields{AthleteID: "a1", SessionID: "s1", RPE: "14", Minutes: "60"}
	rec, err := Normalize(fields, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Participation.RPE != 10 {
		t.Fatalf("rpe = %v, want clamped to 10", rec.Participation.RPE)
	}
}

func TestCanonicalMetric(t *testing.T) {
	cases := map[string]string{
		"sleep":           "sleep",
		"Sleep_Quality":   "sleep",
		"muscle_soreness": "soreness",
		" stress ":        "stress",
		"MOOD":            "mood",
	}
	for in, want := range cases {
		got, ok := CanonicalMetric(in)
		if !ok || got != want {
			t.Fatalf("CanonicalMetric(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := CanonicalMetric("hydration"); ok {
		t.Fatalf("hydration accepted")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	cases := []string{
		"2026-01-15T08:30:00Z",
		"2026-01-15T08:30:00.123Z",
		"2026-01-15",
		"2026-01-15 08:30:00",
		"1768465800",
		"1768465800000",
	}
	for _, c := range cases {
		if _, err := ParseTimestamp(c, time.UTC); err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", c, err)
		}
	}
	if _, err := ParseTimestamp("", time.UTC); err == nil {
		t.Fatalf("empty timestamp accepted")
	}
}

func TestParseSessionType(t *testing.T) {
	if got := ParseSessionType("Game"); got != model.SessionMatch {
		t.Fatalf("game = %v", got)
	}
	if got := ParseSessionType("practice"); got != model.SessionTraining {
		t.Fatalf("practice = %v", got)
	}
	if got := ParseSessionType("mystery"); got != model.SessionOther {
		t.Fatalf("mystery = %v", got)
	}
}
