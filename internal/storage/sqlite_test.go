package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"loadguard/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite("file::memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func testDay(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func testAlert(id string, openedAt time.Time) model.Alert {
	return model.Alert{
		ID:        id,
		TenantID:  "club1",
		AthleteID: "a1",
		PolicyID:  "default",
		Severity:  model.SeverityCritical,
		Status:    model.AlertOpen,
		OpenedAt:  openedAt,
		EventDate: testDay(20),
		Rules:     []string{"acwr_spike"},
	}
}

func TestSaveParticipationIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := model.SessionParticipation{
		TenantID: "club1", AthleteID: "a1", SessionID: "s1",
		Date: testDay(1), Type: model.SessionTraining, RPE: 7, Minutes: 60,
	}
	if err := s.SaveParticipation(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveParticipation(ctx, p); err != nil {
		t.Fatalf("second save: %v", err)
	}
	parts, _, err := s.LoadTimeline(ctx, "club1", "a1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("participations = %d, want 1", len(parts))
	}
	if parts[0].RPE != 7 || parts[0].Minutes != 60 || !parts[0].Date.Equal(testDay(1)) {
		t.Fatalf("participation = %+v", parts[0])
	}
	if parts[0].Type != model.SessionTraining {
		t.Fatalf("type = %v, want training", parts[0].Type)
	}
}

func TestUpsertWellnessLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	w := model.WellnessReading{
		TenantID: "club1", AthleteID: "a1", EventDate: testDay(5),
		Metric: "sleep", Value: 7, ComputedAt: at,
	}
	if err := s.UpsertWellness(ctx, w); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	w.Value = 3
	w.ComputedAt = at.Add(-time.Hour)
	if err := s.UpsertWellness(ctx, w); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	_, wells, err := s.LoadTimeline(ctx, "club1", "a1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(wells) != 1 || wells[0].Value != 7 {
		t.Fatalf("wellness = %+v, stale write applied", wells)
	}

	w.Value = 9
	w.ComputedAt = at.Add(time.Hour)
	if err := s.UpsertWellness(ctx, w); err != nil {
		t.Fatalf("newer upsert: %v", err)
	}
	_, wells, err = s.LoadTimeline(ctx, "club1", "a1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(wells) != 1 || wells[0].Value != 9 {
		t.Fatalf("wellness = %+v, newer write not applied", wells)
	}
}

func TestFeatureRowUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acute := 100.0
	chronic := 50.0
	acwr := 2.0
	row := model.FeatureRow{
		TenantID: "club1", AthleteID: "a1", EventDate: testDay(20),
		AcuteLoad7d: &acute, ChronicLoad28d: &chronic, ChronicSamples: 6, ACWR728: &acwr,
	}
	if err := s.SaveFeatureRow(ctx, row); err != nil {
		t.Fatalf("save: %v", err)
	}
	acwr2 := 1.2
	row.ACWR728 = &acwr2
	if err := s.SaveFeatureRow(ctx, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ListFeatureRows(ctx, "club1", "a1", testDay(1), testDay(31))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1 after upsert", len(got))
	}
	if got[0].ACWR728 == nil || *got[0].ACWR728 != 1.2 {
		t.Fatalf("acwr = %v, want 1.2", got[0].ACWR728)
	}
	if got[0].WellnessComposite != nil {
		t.Fatalf("composite = %v, want nil preserved", *got[0].WellnessComposite)
	}
	if got[0].ChronicSamples != 6 {
		t.Fatalf("chronic samples = %d", got[0].ChronicSamples)
	}
}

func TestOpenAlertDedupeWithinCooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	opened, err := s.OpenAlert(ctx, testAlert("al-1", openedAt), 24*time.Hour)
	if err != nil || !opened {
		t.Fatalf("first open = %v, %v", opened, err)
	}
	opened, err = s.OpenAlert(ctx, testAlert("al-2", openedAt.Add(time.Hour)), 24*time.Hour)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if opened {
		t.Fatalf("duplicate alert opened inside cooldown")
	}
	opened, err = s.OpenAlert(ctx, testAlert("al-3", openedAt.Add(25*time.Hour)), 24*time.Hour)
	if err != nil || !opened {
		t.Fatalf("open after cooldown = %v, %v", opened, err)
	}

	alerts, err := s.ListAlerts(ctx, "club1", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].ID != "al-3" {
		t.Fatalf("newest first: got %s", alerts[0].ID)
	}
	if len(alerts[0].Rules) != 1 || alerts[0].Rules[0] != "acwr_spike" {
		t.Fatalf("rules = %v", alerts[0].Rules)
	}
}

func TestOpenAlertClosedDoesNotSuppress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	if opened, err := s.OpenAlert(ctx, testAlert("al-1", openedAt), 24*time.Hour); err != nil || !opened {
		t.Fatalf("first open = %v, %v", opened, err)
	}
	if err := s.UpdateAlertStatus(ctx, "al-1", model.AlertClosed, openedAt.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	opened, err := s.OpenAlert(ctx, testAlert("al-2", openedAt.Add(time.Hour)), 24*time.Hour)
	if err != nil || !opened {
		t.Fatalf("open after close = %v, %v", opened, err)
	}
}

func TestUpdateAlertStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	if _, err := s.OpenAlert(ctx, testAlert("al-1", openedAt), 0); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.UpdateAlertStatus(ctx, "al-1", model.AlertAcknowledged, openedAt.Add(time.Minute)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := s.UpdateAlertStatus(ctx, "al-1", model.AlertOpen, openedAt.Add(time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reopen: err = %v, want invalid transition", err)
	}
	if err := s.UpdateAlertStatus(ctx, "al-1", model.AlertClosed, openedAt.Add(2*time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.UpdateAlertStatus(ctx, "al-1", model.AlertAcknowledged, openedAt.Add(3*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ack closed: err = %v, want invalid transition", err)
	}
	if err := s.UpdateAlertStatus(ctx, "missing", model.AlertClosed, openedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: err = %v, want not found", err)
	}

	alerts, err := s.ListAlerts(ctx, "club1", model.AlertClosed, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ClosedAt == nil {
		t.Fatalf("closed alerts = %+v", alerts)
	}
}

func TestListAthletesUnion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveParticipation(ctx, model.SessionParticipation{
		TenantID: "club1", AthleteID: "a1", SessionID: "s1", Date: testDay(1),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.UpsertWellness(ctx, model.WellnessReading{
		TenantID: "club1", AthleteID: "a2", EventDate: testDay(1),
		Metric: "sleep", Value: 7, ComputedAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SaveParticipation(ctx, model.SessionParticipation{
		TenantID: "club2", AthleteID: "b1", SessionID: "s1", Date: testDay(1),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ids, err := s.ListAthletes(ctx, "club1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a1" || ids[1] != "a2" {
		t.Fatalf("athletes = %v, want [a1 a2]", ids)
	}
}
