package indicators

// MACDSeries computes the MACD line (fast EMA minus slow EMA) for every index
// where both EMAs are defined. Element i corresponds to prices[slow-1+i].
// Returns nil when there is not enough data or fast >= slow.
func MACDSeries(prices []float64, fast, slow int) []float64 {
	if fast >= slow {
		return nil
	}
	fastEMA := EMASeries(prices, fast)
	slowEMA := EMASeries(prices, slow)
	if len(slowEMA) == 0 {
		return nil
	}

	// Fast EMA starts earlier; skip ahead so both series line up.
	offset := slow - fast
	out := make([]float64, len(slowEMA))
	for i := range slowEMA {
		out[i] = fastEMA[i+offset] - slowEMA[i]
	}
	return out
}

// MACD returns the current MACD line and its signal line. The signal line is
// the mean of the last signalPeriod MACD values (or fewer while warming up).
func MACD(prices []float64, fast, slow, signalPeriod int) (macd, signal float64, ok bool) {
	series := MACDSeries(prices, fast, slow)
	if len(series) == 0 {
		return 0, 0, false
	}

	macd = series[len(series)-1]

	n := signalPeriod
	if n > len(series) {
		n = len(series)
	}
	signal = SMA(series[len(series)-n:])
	return macd, signal, true
}
