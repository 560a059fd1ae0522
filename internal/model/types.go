package model

import (
	"sort"
	"time"
)

type SessionType string

const (
	SessionTraining SessionType = "training"
	SessionMatch    SessionType = "match"
	SessionRecovery SessionType = "recovery"
	SessionOther    SessionType = "other"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for max-of comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertClosed       AlertStatus = "closed"
)

type Session struct {
	SessionID string      `json:"session_id"`
	TenantID  string      `json:"tenant_id"`
	TeamID    string      `json:"team_id,omitempty"`
	Date      time.Time   `json:"date"`
	Type      SessionType `json:"type"`
}

// SessionParticipation is one athlete's share of one session. Immutable once
// recorded. Load, when set upstream, takes precedence over RPE*Minutes.
type SessionParticipation struct {
	TenantID  string      `json:"tenant_id"`
	AthleteID string      `json:"athlete_id"`
	SessionID string      `json:"session_id"`
	Date      time.Time   `json:"date"`
	Type      SessionType `json:"type,omitempty"`
	RPE       float64     `json:"rpe"`
	Minutes   float64     `json:"minutes"`
	Load      float64     `json:"load,omitempty"`
}

// EffectiveLoad prefers the upstream-computed load over the RPE product.
func (p SessionParticipation) EffectiveLoad() float64 {
	if p.Load > 0 {
		return p.Load
	}
	return p.RPE * p.Minutes
}

// WellnessReading is one self-reported metric value for one athlete-day.
// A later ComputedAt for the same (athlete, metric, date) supersedes.
type WellnessReading struct {
	TenantID   string    `json:"tenant_id"`
	AthleteID  string    `json:"athlete_id"`
	EventDate  time.Time `json:"event_date"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// DailyLoad is one athlete's summed session load for one day.
type DailyLoad struct {
	TenantID  string    `json:"tenant_id"`
	AthleteID string    `json:"athlete_id"`
	Date      time.Time `json:"date"`
	Load      float64   `json:"load"`
	Sessions  int       `json:"sessions"`
}

// AggregateDailyLoads folds session participations into per-day load totals,
// ascending by date.
func AggregateDailyLoads(parts []SessionParticipation) []DailyLoad {
	byDay := make(map[time.Time]*DailyLoad, len(parts))
	for _, p := range parts {
		d := Day(p.Date)
		dl, ok := byDay[d]
		if !ok {
			dl = &DailyLoad{TenantID: p.TenantID, AthleteID: p.AthleteID, Date: d}
			byDay[d] = dl
		}
		dl.Load += p.EffectiveLoad()
		dl.Sessions++
	}
	out := make([]DailyLoad, 0, len(byDay))
	for _, dl := range byDay {
		out = append(out, *dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// FeatureRow is the derived per-athlete-per-day feature vector. Rebuilt
// deterministically from source records, never hand-edited. Nil pointers
// mean "insufficient data", not zero.
type FeatureRow struct {
	TenantID          string    `json:"tenant_id"`
	AthleteID         string    `json:"athlete_id"`
	EventDate         time.Time `json:"event_date"`
	AcuteLoad7d       *float64  `json:"acute_load_7d"`
	ChronicLoad28d    *float64  `json:"chronic_load_28d"`
	ChronicSamples    int       `json:"chronic_samples"`
	ACWR728           *float64  `json:"acwr_7_28"`
	WellnessComposite *float64  `json:"wellness_composite"`
	WellnessDeviation *float64  `json:"wellness_deviation"`
	WellnessDropDays  int       `json:"wellness_drop_days"`
	ReadinessScore    *float64  `json:"readiness_score"`
}

// RuleLevel classifies a fired rule inside the policy band table.
type RuleLevel string

const (
	LevelWatch  RuleLevel = "watch"
	LevelDanger RuleLevel = "danger"
)

// Severity maps a band level to the alert severity it contributes.
func (l RuleLevel) Severity() Severity {
	if l == LevelDanger {
		return SeverityCritical
	}
	return SeverityHigh
}

type FiredRule struct {
	Name  string    `json:"name"`
	Level RuleLevel `json:"level"`
	Value float64   `json:"value"`
}

type Alert struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	AthleteID string      `json:"athlete_id"`
	SessionID string      `json:"session_id,omitempty"`
	PolicyID  string      `json:"policy_id"`
	Severity  Severity    `json:"severity"`
	Status    AlertStatus `json:"status"`
	OpenedAt  time.Time   `json:"opened_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
	EventDate time.Time   `json:"event_date"`
	Rules     []string    `json:"rules"`
	Features  FeatureRow  `json:"features"`
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
