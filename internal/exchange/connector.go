// Package exchange defines the market connector used by the agent runtime and
// a paper-trading implementation of it. Live venue adapters are expected to
// satisfy the same interface.
package exchange

import (
	"context"
	"time"
)

// Connector is the exchange surface the core depends on. Implementations must
// be safe to call from any callback goroutine and own their I/O timeouts.
type Connector interface {
	// Ticker returns the current market snapshot for a pair.
	Ticker(ctx context.Context, pair string) (*Ticker, error)

	// OHLC returns candles at the given interval since the given time.
	OHLC(ctx context.Context, pair string, interval time.Duration, since time.Time) ([]Candle, error)

	// TradablePairs lists all pairs known to the venue.
	TradablePairs(ctx context.Context) ([]PairInfo, error)

	// PlaceOrder submits an order. Price is ignored for market orders.
	PlaceOrder(ctx context.Context, pair string, orderType OrderType, direction Direction, amount, price float64) (*OrderResult, error)

	// AccountBalance returns per-asset balances.
	AccountBalance(ctx context.Context) (map[string]float64, error)
}
