package features

import (
	"testing"
	"time"

	"loadguard/internal/model"
)

func row(tenant, athlete string, day int) model.FeatureRow {
	return model.FeatureRow{
		TenantID:  tenant,
		AthleteID: athlete,
		EventDate: time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpdateKeepsLatestDay(t *testing.T) {
	s := NewStore(10)
	s.Update(row("club1", "a1", 5))
	s.Update(row("club1", "a1", 3)) // backfill of an older day

	got, _, ok := s.Get("club1", "a1")
	if !ok {
		t.Fatalf("row missing")
	}
	if got.EventDate.Day() != 5 {
		t.Fatalf("event date = %v, want day 5", got.EventDate)
	}

	s.Update(row("club1", "a1", 6))
	got, _, ok = s.Get("club1", "a1")
	if !ok || got.EventDate.Day() != 6 {
		t.Fatalf("event date = %v, want day 6", got.EventDate)
	}
}

func TestTenantView(t *testing.T) {
	s := NewStore(10)
	s.Update(row("club1", "a1", 1))
	s.Update(row("club1", "a2", 1))
	s.Update(row("club2", "b1", 1))

	m := s.Tenant("club1")
	if len(m) != 2 {
		t.Fatalf("tenant view = %v", m)
	}
	if s.Tenant("unknown") != nil {
		t.Fatalf("unknown tenant not nil")
	}
}

func TestEvictionAtLimit(t *testing.T) {
	s := NewStore(2)
	s.Update(row("club1", "a1", 1))
	time.Sleep(2 * time.Millisecond)
	s.Update(row("club1", "a2", 1))
	time.Sleep(2 * time.Millisecond)
	s.Update(row("club1", "a3", 1))

	if _, _, ok := s.Get("club1", "a1"); ok {
		t.Fatalf("oldest athlete not evicted")
	}
	if _, _, ok := s.Get("club1", "a3"); !ok {
		t.Fatalf("newest athlete missing")
	}
}
