package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"loadguard/internal/alerts"
	"loadguard/internal/config"
	"loadguard/internal/features"
	"loadguard/internal/model"
	"loadguard/internal/storage"
	"loadguard/internal/telemetry"
)

// Engine turns normalized source records into feature rows and alerts.
// Athlete timelines are independent, so rebuilds run athletes in parallel;
// within one athlete everything proceeds in date order.
type Engine struct {
	logger   *slog.Logger
	features *features.Store
	alerts   *alerts.Store
	store    storage.Store
	cfg      atomic.Value
	roster   atomic.Value
	mu       sync.Mutex
	athletes map[string]*AthleteState
	cooldown *Cooldown
	deDupe   *DedupeCache
	started  time.Time
	now      func() time.Time
}

// AthleteState guards one athlete's timeline. The engine consumer and a
// concurrent rebuild sweep may both reach the same state, so every timeline
// access happens under the state's own lock.
type AthleteState struct {
	mu        sync.Mutex
	tenantID  string
	athleteID string
	timeline  *Timeline
}

func NewEngine(cfg *config.Config, logger *slog.Logger, featureStore *features.Store, alertStore *alerts.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:   logger,
		features: featureStore,
		alerts:   alertStore,
		store:    store,
		athletes: make(map[string]*AthleteState),
		cooldown: NewCooldown(),
		deDupe:   NewDedupeCache(),
		started:  time.Now().UTC(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	e.roster.Store(buildRoster(cfg))
	return e
}

// Started reports when this engine instance came up.
func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.roster.Store(buildRoster(cfg))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) rosterSet() *RosterSet {
	if v := e.roster.Load(); v != nil {
		if rs, ok := v.(*RosterSet); ok {
			return rs
		}
	}
	return nil
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Record) {
	go func() {
		for {
			select {
			case rec := <-in:
				e.ProcessRecord(ctx, rec)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessRecord applies one record to its athlete's timeline, recomputes the
// affected feature rows, and evaluates the tenant's policy. Returns any
// alerts opened.
func (e *Engine) ProcessRecord(ctx context.Context, rec model.Record) []model.Alert {
	cfg := e.config()
	tenantID, athleteID := rec.TenantID(), rec.AthleteID()
	if tenantID == "" || athleteID == "" || rec.EventDate().IsZero() {
		return nil
	}
	if !e.rosterSet().Tracked(tenantID, athleteID) {
		return nil
	}
	if e.isDuplicate(rec, cfg.Ingest.DedupeWindow) {
		telemetry.RecordDuplicate()
		return nil
	}
	telemetry.RecordIngested(string(rec.Kind), rec.Source)

	state := e.getAthlete(tenantID, athleteID, cfg)
	state.mu.Lock()
	defer state.mu.Unlock()
	var applied bool
	switch rec.Kind {
	case model.KindParticipation:
		p := rec.Participation
		state.timeline.AddLoad(p.Date, p.EffectiveLoad())
		applied = true
		if e.store != nil {
			if err := e.store.SaveParticipation(ctx, *p); err != nil && e.logger != nil {
				e.logger.Error("save participation", "tenant_id", tenantID, "athlete_id", athleteID, "err", err)
			}
		}
	case model.KindWellness:
		w := rec.Wellness
		applied = state.timeline.SetWellness(w.EventDate, w.Metric, w.Value, w.ComputedAt)
		if e.store != nil {
			if err := e.store.UpsertWellness(ctx, *w); err != nil && e.logger != nil {
				e.logger.Error("save wellness", "tenant_id", tenantID, "athlete_id", athleteID, "err", err)
			}
		}
	default:
		return nil
	}
	if !applied {
		return nil
	}

	opts := RowOptions{
		Weights:       cfg.Features.Weights,
		DropThreshold: cfg.PolicyFor(tenantID).DropThreshold,
	}
	var out []model.Alert
	// A backdated record shifts every window that includes it.
	for _, date := range state.timeline.Dates(rec.EventDate()) {
		row := state.timeline.ComputeRow(tenantID, athleteID, date, opts)
		e.publishRow(ctx, row)
		if alert, ok := e.maybeAlert(ctx, cfg, row); ok {
			out = append(out, alert)
		}
	}
	return out
}

func (e *Engine) publishRow(ctx context.Context, row model.FeatureRow) {
	telemetry.FeatureRowComputed()
	if e.features != nil {
		e.features.Update(row)
	}
	if e.store != nil {
		if err := e.store.SaveFeatureRow(ctx, row); err != nil && e.logger != nil {
			e.logger.Error("save feature row", "tenant_id", row.TenantID, "athlete_id", row.AthleteID, "err", err)
		}
	}
}

func (e *Engine) maybeAlert(ctx context.Context, cfg *config.Config, row model.FeatureRow) (model.Alert, bool) {
	policy := cfg.PolicyFor(row.TenantID)
	rules := Evaluate(policy, row)
	severity, fired := CombineSeverity(rules)
	if !fired {
		return model.Alert{}, false
	}
	now := e.now()
	if !e.cooldown.Allow(row.TenantID, row.AthleteID, policy.ID, now, policy.Cooldown) {
		telemetry.AlertSuppressed()
		return model.Alert{}, false
	}
	alert := model.Alert{
		ID:        uuid.NewString(),
		TenantID:  row.TenantID,
		AthleteID: row.AthleteID,
		PolicyID:  policy.ID,
		Severity:  severity,
		Status:    model.AlertOpen,
		OpenedAt:  now,
		EventDate: row.EventDate,
		Rules:     RuleNames(rules),
		Features:  row,
	}
	if e.store != nil {
		opened, err := e.store.OpenAlert(ctx, alert, policy.Cooldown)
		if err != nil {
			if e.logger != nil {
				e.logger.Error("open alert", "tenant_id", row.TenantID, "athlete_id", row.AthleteID, "err", err)
			}
			return model.Alert{}, false
		}
		if !opened {
			telemetry.AlertSuppressed()
			return model.Alert{}, false
		}
	}
	if e.alerts != nil {
		e.alerts.Add(alert)
	}
	telemetry.AlertOpened(string(severity))
	if e.logger != nil {
		e.logger.Warn("alert opened",
			"tenant_id", alert.TenantID,
			"athlete_id", alert.AthleteID,
			"severity", alert.Severity,
			"rules", alert.Rules,
			"event_date", alert.EventDate.Format("2006-01-02"),
		)
	}
	return alert, true
}

// Rebuild recomputes every feature row for a tenant from the mart. Athletes
// run in parallel; alerts are evaluated only for each athlete's latest day
// so historical days do not re-fire.
func (e *Engine) Rebuild(ctx context.Context, tenantID string, athleteIDs ...string) error {
	if e.store == nil {
		return errors.New("rebuild requires storage")
	}
	cfg := e.config()
	if len(athleteIDs) == 0 {
		ids, err := e.store.ListAthletes(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list athletes: %w", err)
		}
		athleteIDs = ids
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(athleteIDs))
	for _, athleteID := range athleteIDs {
		if !e.rosterSet().Tracked(tenantID, athleteID) {
			continue
		}
		wg.Add(1)
		go func(athleteID string) {
			defer wg.Done()
			if err := e.rebuildAthlete(ctx, cfg, tenantID, athleteID); err != nil {
				errCh <- fmt.Errorf("athlete %s: %w", athleteID, err)
			}
		}(athleteID)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func (e *Engine) rebuildAthlete(ctx context.Context, cfg *config.Config, tenantID, athleteID string) error {
	parts, wells, err := e.store.LoadTimeline(ctx, tenantID, athleteID)
	if err != nil {
		return err
	}
	timeline := NewTimeline(cfg.Features.AcuteDays, cfg.Features.ChronicDays, cfg.Features.BaselineDays)
	for _, p := range parts {
		timeline.AddLoad(p.Date, p.EffectiveLoad())
	}
	for _, w := range wells {
		timeline.SetWellness(w.EventDate, w.Metric, w.Value, w.ComputedAt)
	}

	// Publish the state locked: live records for this athlete queue up
	// behind the sweep instead of mutating the timeline mid-iteration.
	state := &AthleteState{tenantID: tenantID, athleteID: athleteID, timeline: timeline}
	state.mu.Lock()
	defer state.mu.Unlock()

	e.mu.Lock()
	e.athletes[tenantID+"|"+athleteID] = state
	telemetry.SetTrackedAthletes(len(e.athletes))
	e.mu.Unlock()

	opts := RowOptions{
		Weights:       cfg.Features.Weights,
		DropThreshold: cfg.PolicyFor(tenantID).DropThreshold,
	}
	dates := timeline.Dates(time.Time{})
	for i, date := range dates {
		row := timeline.ComputeRow(tenantID, athleteID, date, opts)
		e.publishRow(ctx, row)
		if i == len(dates)-1 {
			e.maybeAlert(ctx, cfg, row)
		}
	}
	return nil
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.athletes = make(map[string]*AthleteState)
	e.mu.Unlock()
	e.cooldown = NewCooldown()
	e.deDupe = NewDedupeCache()
	telemetry.SetTrackedAthletes(0)
}

func (e *Engine) getAthlete(tenantID, athleteID string, cfg *config.Config) *AthleteState {
	key := tenantID + "|" + athleteID
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.athletes[key]; ok {
		return s
	}
	s := &AthleteState{
		tenantID:  tenantID,
		athleteID: athleteID,
		timeline:  NewTimeline(cfg.Features.AcuteDays, cfg.Features.ChronicDays, cfg.Features.BaselineDays),
	}
	e.athletes[key] = s
	telemetry.SetTrackedAthletes(len(e.athletes))
	return s
}

func (e *Engine) isDuplicate(rec model.Record, dedupeWindow time.Duration) bool {
	if dedupeWindow <= 0 {
		return false
	}
	return e.deDupe.Seen(recordKey(rec), e.now(), dedupeWindow)
}

func recordKey(rec model.Record) string {
	day := model.Day(rec.EventDate()).Format("2006-01-02")
	switch rec.Kind {
	case model.KindParticipation:
		return "p|" + rec.TenantID() + "|" + rec.AthleteID() + "|" + rec.Participation.SessionID
	case model.KindWellness:
		w := rec.Wellness
		return "w|" + w.TenantID + "|" + w.AthleteID + "|" + day + "|" + w.Metric + "|" +
			w.ComputedAt.UTC().Format(time.RFC3339Nano)
	}
	return "?|" + rec.TenantID() + "|" + rec.AthleteID() + "|" + day
}
