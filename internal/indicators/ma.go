package indicators

// SMA averages the last period values. Shorter history reads 0, the
// warm-up convention shared by every indicator in this package.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
