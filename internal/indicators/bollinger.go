package indicators

import "math"

// Bollinger computes the Bollinger Bands over the last period prices:
// middle = SMA, upper/lower = middle +/- stdDev * standard deviation.
func Bollinger(prices []float64, period int, stdDev float64) (upper, middle, lower float64, ok bool) {
	if period < 1 || len(prices) < period {
		return 0, 0, 0, false
	}

	window := prices[len(prices)-period:]
	middle = SMA(window)

	var variance float64
	for _, p := range window {
		d := p - middle
		variance += d * d
	}
	variance /= float64(period)
	sd := math.Sqrt(variance)

	return middle + stdDev*sd, middle, middle - stdDev*sd, true
}
