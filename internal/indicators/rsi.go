// Package indicators implements the technical-indicator math used by the
// baseline signal rules. The formulas here are the exact ones the rules are
// tuned against; the data producers use the library equivalents for feed
// enrichment.
package indicators

// RSI computes the Relative Strength Index in the simple-average form: average
// gain and loss over the last period deltas, no Wilder smoothing. Returns 50
// when there is not enough data and 100 when the average loss is zero.
func RSI(prices []float64, period int) float64 {
	if period < 1 || len(prices) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
