package indicators

// MACDSeries computes the MACD line (fast EMA minus slow EMA) and its
// signal line. Both series align with the input; entries are valid from
// index slowPeriod+signalPeriod-2 onward. ok is false when history is too
// short for even one signal value.
func MACDSeries(values []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal []float64, ok bool) {
	if fastPeriod <= 0 || slowPeriod <= fastPeriod || signalPeriod <= 0 {
		return nil, nil, false
	}
	if len(values) < slowPeriod+signalPeriod {
		return nil, nil, false
	}

	fast := EMASeries(values, fastPeriod)
	slow := EMASeries(values, slowPeriod)

	line = make([]float64, len(values))
	for i := slowPeriod - 1; i < len(values); i++ {
		line[i] = fast[i] - slow[i]
	}

	// Signal is an EMA over the valid region of the MACD line.
	valid := line[slowPeriod-1:]
	sig := EMASeries(valid, signalPeriod)
	if sig == nil {
		return nil, nil, false
	}
	signal = make([]float64, len(values))
	copy(signal[slowPeriod-1:], sig)
	return line, signal, true
}

// MACD returns the latest MACD line and signal values.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal float64, ok bool) {
	ls, ss, ok := MACDSeries(values, fastPeriod, slowPeriod, signalPeriod)
	if !ok {
		return 0, 0, false
	}
	n := len(ls) - 1
	return ls[n], ss[n], true
}
