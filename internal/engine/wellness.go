package engine

// Composite blends the present wellness metrics into one score. Weights of
// missing metrics are redistributed proportionally over the metrics that are
// present, so the effective weights always sum to 1.0. A day with no
// readings at all has no composite.
func Composite(values map[string]float64, weights map[string]float64) *float64 {
	if len(values) == 0 || len(weights) == 0 {
		return nil
	}
	weightSum := 0.0
	for metric, w := range weights {
		if _, ok := values[metric]; !ok {
			continue
		}
		weightSum += w
	}
	if weightSum <= 0 {
		return nil
	}
	score := 0.0
	for metric, w := range weights {
		v, ok := values[metric]
		if !ok {
			continue
		}
		score += v * (w / weightSum)
	}
	return &score
}
