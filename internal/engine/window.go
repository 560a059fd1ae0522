package engine

import (
	"sort"
	"time"

	"loadguard/internal/model"
)

type wellnessValue struct {
	value      float64
	computedAt time.Time
}

type dayBucket struct {
	date     time.Time
	load     float64
	hasLoad  bool
	wellness map[string]wellnessValue
}

// Timeline holds one athlete's day-bucketed history, ordered by date
// ascending. Days with no data have no bucket: rolling windows average over
// however many buckets exist, never over zero-padded days.
type Timeline struct {
	acuteDays    int
	chronicDays  int
	baselineDays int
	days         []*dayBucket
}

func NewTimeline(acuteDays, chronicDays, baselineDays int) *Timeline {
	return &Timeline{
		acuteDays:    acuteDays,
		chronicDays:  chronicDays,
		baselineDays: baselineDays,
		days:         make([]*dayBucket, 0, 64),
	}
}

func (t *Timeline) bucket(date time.Time, create bool) *dayBucket {
	date = model.Day(date)
	i := sort.Search(len(t.days), func(i int) bool {
		return !t.days[i].date.Before(date)
	})
	if i < len(t.days) && t.days[i].date.Equal(date) {
		return t.days[i]
	}
	if !create {
		return nil
	}
	b := &dayBucket{date: date}
	t.days = append(t.days, nil)
	copy(t.days[i+1:], t.days[i:])
	t.days[i] = b
	return b
}

// AddLoad sums a session's load into the athlete's bucket for that day.
func (t *Timeline) AddLoad(date time.Time, load float64) {
	if load < 0 {
		load = 0
	}
	b := t.bucket(date, true)
	b.load += load
	b.hasLoad = true
}

// SetWellness records one metric for a day. Latest computation timestamp
// wins; a stale re-delivery is ignored and reported as not applied.
func (t *Timeline) SetWellness(date time.Time, metric string, value float64, computedAt time.Time) bool {
	b := t.bucket(date, true)
	if b.wellness == nil {
		b.wellness = make(map[string]wellnessValue, 4)
	}
	if prev, ok := b.wellness[metric]; ok && prev.computedAt.After(computedAt) {
		return false
	}
	b.wellness[metric] = wellnessValue{value: value, computedAt: computedAt}
	return true
}

// Dates returns every bucketed day at or after from, ascending.
func (t *Timeline) Dates(from time.Time) []time.Time {
	from = model.Day(from)
	out := make([]time.Time, 0, 4)
	for _, b := range t.days {
		if b.date.Before(from) {
			continue
		}
		out = append(out, b.date)
	}
	return out
}

// loadWindow averages load over the trailing span ending at date, inclusive.
// Matches "rows between N preceding and current row": fewer buckets than the
// span still produce a mean over what exists.
func (t *Timeline) loadWindow(date time.Time, spanDays int) (mean float64, samples int) {
	date = model.Day(date)
	cutoff := date.AddDate(0, 0, -(spanDays - 1))
	sum := 0.0
	for _, b := range t.days {
		if b.date.Before(cutoff) {
			continue
		}
		if b.date.After(date) {
			break
		}
		if !b.hasLoad {
			continue
		}
		sum += b.load
		samples++
	}
	if samples == 0 {
		return 0, 0
	}
	return sum / float64(samples), samples
}

// metricBaseline averages one wellness metric over the trailing baseline
// window ending at date, inclusive.
func (t *Timeline) metricBaseline(metric string, date time.Time) (mean float64, samples int) {
	date = model.Day(date)
	cutoff := date.AddDate(0, 0, -(t.baselineDays - 1))
	sum := 0.0
	for _, b := range t.days {
		if b.date.Before(cutoff) {
			continue
		}
		if b.date.After(date) {
			break
		}
		wv, ok := b.wellness[metric]
		if !ok {
			continue
		}
		sum += wv.value
		samples++
	}
	if samples == 0 {
		return 0, 0
	}
	return sum / float64(samples), samples
}

func (t *Timeline) wellnessOn(date time.Time) map[string]float64 {
	b := t.bucket(date, false)
	if b == nil || len(b.wellness) == 0 {
		return nil
	}
	out := make(map[string]float64, len(b.wellness))
	for metric, wv := range b.wellness {
		out[metric] = wv.value
	}
	return out
}

// RowOptions carries the knobs ComputeRow needs beyond the window spans.
type RowOptions struct {
	Weights       map[string]float64
	DropThreshold float64
}

// ComputeRow derives the feature vector for one athlete-day. Nil fields mean
// insufficient data: chronic of zero yields a nil ACWR, never a division
// error, and a day with no wellness readings yields a nil composite.
func (t *Timeline) ComputeRow(tenantID, athleteID string, date time.Time, opts RowOptions) model.FeatureRow {
	date = model.Day(date)
	row := model.FeatureRow{TenantID: tenantID, AthleteID: athleteID, EventDate: date}

	if acute, n := t.loadWindow(date, t.acuteDays); n > 0 {
		row.AcuteLoad7d = &acute
	}
	chronic, chronicSamples := t.loadWindow(date, t.chronicDays)
	row.ChronicSamples = chronicSamples
	if chronicSamples > 0 {
		c := chronic
		row.ChronicLoad28d = &c
	}
	if row.AcuteLoad7d != nil && row.ChronicLoad28d != nil && *row.ChronicLoad28d > 0 {
		ratio := *row.AcuteLoad7d / *row.ChronicLoad28d
		row.ACWR728 = &ratio
	}

	row.WellnessComposite = Composite(t.wellnessOn(date), opts.Weights)
	row.WellnessDeviation = t.compositeDeviation(date, opts.Weights)
	if opts.DropThreshold > 0 {
		row.WellnessDropDays = t.dropStreak(date, opts)
	}
	row.ReadinessScore = readiness(row)
	return row
}

// compositeDeviation is today's composite minus the composite of the
// per-metric baselines, over the same present-metric set.
func (t *Timeline) compositeDeviation(date time.Time, weights map[string]float64) *float64 {
	today := t.wellnessOn(date)
	if len(today) == 0 {
		return nil
	}
	baselines := make(map[string]float64, len(today))
	for metric := range today {
		mean, n := t.metricBaseline(metric, date)
		if n == 0 {
			mean = today[metric]
		}
		baselines[metric] = mean
	}
	cur := Composite(today, weights)
	base := Composite(baselines, weights)
	if cur == nil || base == nil {
		return nil
	}
	d := *cur - *base
	return &d
}

// dropStreak counts consecutive bucketed days ending at date whose composite
// deviation is at or below the negated drop threshold.
func (t *Timeline) dropStreak(date time.Time, opts RowOptions) int {
	date = model.Day(date)
	streak := 0
	i := sort.Search(len(t.days), func(i int) bool {
		return !t.days[i].date.Before(date)
	})
	if i >= len(t.days) || !t.days[i].date.Equal(date) {
		return 0
	}
	for ; i >= 0; i-- {
		dev := t.compositeDeviation(t.days[i].date, opts.Weights)
		if dev == nil || *dev > -opts.DropThreshold {
			break
		}
		streak++
		if i > 0 && !t.days[i-1].date.Equal(t.days[i].date.AddDate(0, 0, -1)) {
			break
		}
	}
	return streak
}

// readiness blends the composite (0..10 scaled to 0..100) with a penalty for
// ACWR distance from 1.0. Nil when neither signal exists.
func readiness(row model.FeatureRow) *float64 {
	if row.WellnessComposite == nil && row.ACWR728 == nil {
		return nil
	}
	score := 50.0
	if row.WellnessComposite != nil {
		score = *row.WellnessComposite * 10
	}
	if row.ACWR728 != nil {
		dist := *row.ACWR728 - 1.0
		if dist < 0 {
			dist = -dist
		}
		if dist > 1 {
			dist = 1
		}
		score -= dist * 20
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &score
}
