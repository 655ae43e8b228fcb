package indicators

import "math"

// ATR computes the Average True Range as the simple average of the true range
// over the last period bars. The three slices must have equal length.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period < 1 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	var sum float64
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
		tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		sum += tr
	}
	return sum / float64(period)
}

// Momentum returns the price change over the last period bars.
func Momentum(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return 0
	}
	return closes[len(closes)-1] - closes[len(closes)-1-period]
}
