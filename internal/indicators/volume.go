package indicators

// PercentileRank returns the percentage (0..100) of the trailing lookback
// values that the latest value exceeds. Returns 0 when history is shorter
// than lookback+1.
func PercentileRank(values []float64, lookback int) float64 {
	if lookback <= 0 || len(values) < lookback+1 {
		return 0
	}
	latest := values[len(values)-1]
	window := values[len(values)-1-lookback : len(values)-1]

	below := 0
	for _, v := range window {
		if v < latest {
			below++
		}
	}
	return 100 * float64(below) / float64(lookback)
}

// RollingMean averages the lookback values preceding the latest one.
func RollingMean(values []float64, lookback int) float64 {
	if lookback <= 0 || len(values) < lookback+1 {
		return 0
	}
	window := values[len(values)-1-lookback : len(values)-1]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(lookback)
}
