package indicators

// RSI is the Relative Strength Index over the last period changes, without
// Wilder smoothing. Monotonic input pins the value to 0 or 100.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var gains, losses float64
	window := values[len(values)-period-1:]
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	if losses == 0 {
		return 100
	}
	return 100 - 100/(1+gains/losses)
}
