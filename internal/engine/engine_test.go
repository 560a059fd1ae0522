package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"loadguard/internal/alerts"
	"loadguard/internal/config"
	"loadguard/internal/features"
	"loadguard/internal/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.DedupeWindow = time.Hour
	return cfg
}

func newEngineForTest(cfg *config.Config) *Engine {
	return NewEngine(cfg, nil, features.NewStore(100), alerts.NewStore(100), nil)
}

func participation(athlete, session string, date time.Time, load float64) model.Record {
	return model.Record{
		Kind: model.KindParticipation,
		Participation: &model.SessionParticipation{
			TenantID:  "club1",
			AthleteID: athlete,
			SessionID: session,
			Date:      date,
			Load:      load,
		},
	}
}

func wellness(athlete string, date time.Time, metric string, value float64, computedAt time.Time) model.Record {
	return model.Record{
		Kind: model.KindWellness,
		Wellness: &model.WellnessReading{
			TenantID:   "club1",
			AthleteID:  athlete,
			EventDate:  date,
			Metric:     metric,
			Value:      value,
			ComputedAt: computedAt,
		},
	}
}

func TestSteadyLoadNoAlert(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	for d := 1; d <= 10; d++ {
		got := eng.ProcessRecord(ctx, participation("a1", "s"+string(rune('a'+d)), day(d), 10))
		if len(got) > 0 {
			t.Fatalf("day %d: unexpected alert %v", d, got)
		}
	}
}

func TestLoadSpikeOpensCriticalAlert(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	for d := 1; d <= 5; d++ {
		eng.ProcessRecord(ctx, participation("a1", "s"+string(rune('0'+d)), day(d), 10))
	}
	got := eng.ProcessRecord(ctx, participation("a1", "spike", day(20), 100))
	if len(got) != 1 {
		t.Fatalf("alerts = %v, want one", got)
	}
	alert := got[0]
	if alert.Severity != model.SeverityCritical {
		t.Fatalf("severity = %v, want critical", alert.Severity)
	}
	if !containsName(alert.Rules, "acwr_spike") {
		t.Fatalf("rules = %v, want acwr_spike", alert.Rules)
	}
	if alert.Status != model.AlertOpen || alert.TenantID != "club1" || alert.AthleteID != "a1" {
		t.Fatalf("alert = %+v", alert)
	}
	// Spike day: acute mean 100 over one day, chronic 150/6.
	if alert.Features.ACWR728 == nil || !almostEqual(*alert.Features.ACWR728, 4.0) {
		t.Fatalf("acwr = %v, want 4.0", alert.Features.ACWR728)
	}
}

func TestCooldownSuppressesRepeatAlert(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	for d := 1; d <= 5; d++ {
		eng.ProcessRecord(ctx, participation("a1", "s"+string(rune('0'+d)), day(d), 10))
	}
	if got := eng.ProcessRecord(ctx, participation("a1", "spike1", day(20), 100)); len(got) != 1 {
		t.Fatalf("first spike: alerts = %v, want one", got)
	}
	if got := eng.ProcessRecord(ctx, participation("a1", "spike2", day(20), 100)); len(got) != 0 {
		t.Fatalf("second spike inside cooldown: alerts = %v, want none", got)
	}

	// Past the cooldown the same condition may alert again.
	base := time.Now().UTC()
	eng.now = func() time.Time { return base.Add(25 * time.Hour) }
	if got := eng.ProcessRecord(ctx, participation("a1", "spike3", day(20), 100)); len(got) != 1 {
		t.Fatalf("spike after cooldown: alerts = %v, want one", got)
	}
}

func TestRosterExcludesAthlete(t *testing.T) {
	cfg := testConfig()
	cfg.Roster.Enabled = true
	cfg.Roster.Exclude = map[string][]string{"club1": {"A1"}}
	eng := newEngineForTest(cfg)

	eng.ProcessRecord(context.Background(), participation("a1", "s1", day(1), 10))
	if _, _, ok := eng.features.Get("club1", "a1"); ok {
		t.Fatalf("excluded athlete produced a feature row")
	}
	eng.ProcessRecord(context.Background(), participation("a2", "s1", day(1), 10))
	if _, _, ok := eng.features.Get("club1", "a2"); !ok {
		t.Fatalf("tracked athlete missing feature row")
	}
}

func TestDuplicateSessionIgnored(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 10))
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 10))

	row, _, ok := eng.features.Get("club1", "a1")
	if !ok {
		t.Fatalf("missing feature row")
	}
	if row.AcuteLoad7d == nil || !almostEqual(*row.AcuteLoad7d, 10) {
		t.Fatalf("acute = %v, want 10 after duplicate drop", row.AcuteLoad7d)
	}
}

func TestStaleWellnessNotApplied(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	eng.ProcessRecord(ctx, wellness("a1", day(5), "sleep", 8, at))
	eng.ProcessRecord(ctx, wellness("a1", day(5), "sleep", 2, at.Add(-time.Hour)))

	row, _, ok := eng.features.Get("club1", "a1")
	if !ok {
		t.Fatalf("missing feature row")
	}
	if row.WellnessComposite == nil || !almostEqual(*row.WellnessComposite, 8) {
		t.Fatalf("composite = %v, want 8 after stale re-delivery", row.WellnessComposite)
	}
}

func TestBackdatedRecordRecomputesLaterDays(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	eng.ProcessRecord(ctx, participation("a1", "s3", day(3), 30))
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 30))

	row, _, ok := eng.features.Get("club1", "a1")
	if !ok {
		t.Fatalf("missing feature row")
	}
	// The latest row is still day 3, now with both days in its windows.
	if !row.EventDate.Equal(day(3)) {
		t.Fatalf("event date = %v, want day 3", row.EventDate)
	}
	if row.ChronicSamples != 2 {
		t.Fatalf("chronic samples = %d, want 2 after backfill", row.ChronicSamples)
	}
}

func TestTenantPolicyOverride(t *testing.T) {
	cfg := testConfig()
	strict := config.DefaultPolicy()
	strict.ID = "strict"
	strict.MinChronicSamples = 1
	strict.ACWRDangerHigh = 1.2
	strict.ACWRWatchLow = 1.05
	strict.ACWRWatchHigh = 1.2
	cfg.Policies = map[string]config.Policy{"club1": strict}
	eng := newEngineForTest(cfg)

	ctx := context.Background()
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 10))
	got := eng.ProcessRecord(ctx, participation("a1", "s2", day(8), 50))
	if len(got) != 1 || got[0].PolicyID != "strict" {
		t.Fatalf("alerts = %v, want one from the strict policy", got)
	}
}

func TestResetClearsState(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 10))
	eng.Reset()

	eng.mu.Lock()
	n := len(eng.athletes)
	eng.mu.Unlock()
	if n != 0 {
		t.Fatalf("athletes = %d after reset, want 0", n)
	}
	// The dedupe cache is gone too, so the same session applies again.
	eng.ProcessRecord(ctx, participation("a1", "s1", day(1), 10))
	if _, _, ok := eng.features.Get("club1", "a1"); !ok {
		t.Fatalf("record after reset not processed")
	}
}

// stubStore serves a flat 20-day load history for one athlete so Rebuild has
// something to sweep.
type stubStore struct{}

func (stubStore) Init(ctx context.Context) error { return nil }
func (stubStore) Close() error                   { return nil }
func (stubStore) SaveParticipation(ctx context.Context, p model.SessionParticipation) error {
	return nil
}
func (stubStore) UpsertWellness(ctx context.Context, w model.WellnessReading) error { return nil }
func (stubStore) SaveFeatureRow(ctx context.Context, row model.FeatureRow) error    { return nil }
func (stubStore) OpenAlert(ctx context.Context, alert model.Alert, cooldown time.Duration) (bool, error) {
	return true, nil
}
func (stubStore) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, at time.Time) error {
	return nil
}
func (stubStore) ListFeatureRows(ctx context.Context, tenantID, athleteID string, from, to time.Time) ([]model.FeatureRow, error) {
	return nil, nil
}
func (stubStore) ListAlerts(ctx context.Context, tenantID string, status model.AlertStatus, limit int) ([]model.Alert, error) {
	return nil, nil
}
func (stubStore) ListAthletes(ctx context.Context, tenantID string) ([]string, error) {
	return []string{"a1"}, nil
}
func (stubStore) LoadTimeline(ctx context.Context, tenantID, athleteID string) ([]model.SessionParticipation, []model.WellnessReading, error) {
	parts := make([]model.SessionParticipation, 0, 20)
	for d := 1; d <= 20; d++ {
		parts = append(parts, model.SessionParticipation{
			TenantID:  tenantID,
			AthleteID: athleteID,
			SessionID: fmt.Sprintf("hist%d", d),
			Date:      day(d),
			Load:      10,
		})
	}
	return parts, nil, nil
}

func TestRebuildDuringIngest(t *testing.T) {
	eng := NewEngine(testConfig(), nil, features.NewStore(100), alerts.NewStore(100), stubStore{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			eng.ProcessRecord(ctx, participation("a1", fmt.Sprintf("live%d", i), day(21), 10))
		}
	}()
	for i := 0; i < 10; i++ {
		if err := eng.Rebuild(ctx, "club1"); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
	}
	wg.Wait()

	if _, _, ok := eng.features.Get("club1", "a1"); !ok {
		t.Fatalf("missing feature row after concurrent rebuild")
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
