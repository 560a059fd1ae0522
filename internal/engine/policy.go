package engine

import (
	"loadguard/internal/config"
	"loadguard/internal/model"
)

// Evaluate applies one policy's band table to one feature row. Pure: same
// row and policy always yield the same fired set, in a fixed order. A nil
// ACWR or composite simply means the corresponding rules cannot fire. Only
// the undertraining rule requires a minimum chronic sample count: a low
// ratio over a thin history is noise, a spike is a spike.
func Evaluate(p config.Policy, row model.FeatureRow) []model.FiredRule {
	var rules []model.FiredRule

	if row.ACWR728 != nil {
		acwr := *row.ACWR728
		switch {
		case acwr > p.ACWRDangerHigh:
			rules = append(rules, model.FiredRule{Name: "acwr_spike", Level: model.LevelDanger, Value: acwr})
		case acwr < p.ACWRDangerLow && row.ChronicSamples >= p.MinChronicSamples:
			rules = append(rules, model.FiredRule{Name: "acwr_undertraining", Level: model.LevelDanger, Value: acwr})
		case acwr >= p.ACWRWatchLow && acwr <= p.ACWRWatchHigh:
			rules = append(rules, model.FiredRule{Name: "acwr_elevated", Level: model.LevelWatch, Value: acwr})
		}
	}

	if row.WellnessComposite != nil {
		composite := *row.WellnessComposite
		switch {
		case composite < p.WellnessDangerBelow:
			rules = append(rules, model.FiredRule{Name: "wellness_collapse", Level: model.LevelDanger, Value: composite})
		case composite >= p.WellnessWatchLow && composite <= p.WellnessWatchHigh:
			rules = append(rules, model.FiredRule{Name: "wellness_low", Level: model.LevelWatch, Value: composite})
		}
	}

	if p.DropThreshold > 0 && row.WellnessDropDays >= p.DropDays {
		dev := 0.0
		if row.WellnessDeviation != nil {
			dev = *row.WellnessDeviation
		}
		rules = append(rules, model.FiredRule{Name: "wellness_drop", Level: model.LevelWatch, Value: dev})
	}

	return rules
}

// CombineSeverity is the max of the fired levels: any danger rule makes the
// alert critical, otherwise any watch rule makes it high. Severities are
// never averaged.
func CombineSeverity(rules []model.FiredRule) (model.Severity, bool) {
	if len(rules) == 0 {
		return model.SeverityLow, false
	}
	max := model.SeverityLow
	for _, r := range rules {
		if s := r.Level.Severity(); s.Rank() > max.Rank() {
			max = s
		}
	}
	return max, true
}

// RuleNames flattens a fired set for storage and logging.
func RuleNames(rules []model.FiredRule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Name)
	}
	return out
}
