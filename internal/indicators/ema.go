package indicators

// EMASeries computes an exponential moving average with 2/(period+1)
// smoothing, seeded with the SMA of the first period values. Entries before
// index period-1 are zero and must not be read.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	out[period-1] = seed / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// EMA returns the latest EMA value, or 0 when history is insufficient.
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if s == nil {
		return 0
	}
	return s[len(s)-1]
}
