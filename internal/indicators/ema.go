package indicators

// EMASeries computes the exponential moving average series, seeded with the
// simple average of the first period samples. The returned slice is aligned so
// that element i corresponds to prices[period-1+i]. Returns nil when there is
// not enough data.
func EMASeries(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return nil
	}

	out := make([]float64, 0, len(prices)-period+1)
	ema := SMA(prices[:period])
	out = append(out, ema)

	k := 2.0 / (float64(period) + 1)
	for _, p := range prices[period:] {
		ema = k*p + (1-k)*ema
		out = append(out, ema)
	}
	return out
}

// EMA returns the latest exponential moving average value, or false when there
// is not enough data.
func EMA(prices []float64, period int) (float64, bool) {
	series := EMASeries(prices, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}
