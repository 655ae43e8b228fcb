package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Paper simulates a Kraken-style venue for paper trading. Prices are seeded
// by tests or by a market-data feed; orders fill instantly at the current
// price plus slippage.
type Paper struct {
	mu       sync.RWMutex
	tickers  map[string]*Ticker
	pairs    []PairInfo
	balances map[string]float64
	orders   map[string]*OrderResult

	feePct      float64 // per-side, percent
	slippagePct float64 // per-side, percent

	breaker *gobreaker.CircuitBreaker
}

// PaperConfig configures the paper venue.
type PaperConfig struct {
	FeePct      float64
	SlippagePct float64
	Balances    map[string]float64
}

// NewPaper creates a paper venue with the given fee model.
func NewPaper(cfg PaperConfig) *Paper {
	balances := cfg.Balances
	if balances == nil {
		balances = map[string]float64{"ZUSD": 10000}
	}

	p := &Paper{
		tickers:     make(map[string]*Ticker),
		balances:    balances,
		orders:      make(map[string]*OrderResult),
		feePct:      cfg.FeePct,
		slippagePct: cfg.SlippagePct,
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
		},
	})

	log.Info().
		Float64("fee_pct", cfg.FeePct).
		Float64("slippage_pct", cfg.SlippagePct).
		Msg("Paper exchange initialized")

	return p
}

// SetTicker seeds or updates the market snapshot for a pair.
func (p *Paper) SetTicker(t *Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickers[t.Pair] = t
}

// SetPrice is a shorthand that updates only the traded price of a pair,
// deriving a tight synthetic spread around it.
func (p *Paper) SetPrice(pair string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickers[pair]
	if !ok {
		t = &Ticker{Pair: pair, Open: price, High24h: price, Low24h: price}
		p.tickers[pair] = t
	}
	t.Close = price
	t.Bid = price * 0.9995
	t.Ask = price * 1.0005
	if price > t.High24h {
		t.High24h = price
	}
	if t.Low24h == 0 || price < t.Low24h {
		t.Low24h = price
	}
}

// SetPairs seeds the tradable-pair listing.
func (p *Paper) SetPairs(pairs []PairInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = pairs
}

// Ticker implements Connector.
func (p *Paper) Ticker(_ context.Context, pair string) (*Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("no market data for %q", pair)
	}
	snapshot := *t
	return &snapshot, nil
}

// OHLC implements Connector. The paper venue synthesizes flat candles from the
// current ticker; live adapters return real history.
func (p *Paper) OHLC(_ context.Context, pair string, interval time.Duration, since time.Time) ([]Candle, error) {
	p.mu.RLock()
	t, ok := p.tickers[pair]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no market data for %q", pair)
	}

	var candles []Candle
	for ts := since; ts.Before(time.Now()); ts = ts.Add(interval) {
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      t.Close,
			High:      t.Close,
			Low:       t.Close,
			Close:     t.Close,
		})
	}
	return candles, nil
}

// TradablePairs implements Connector.
func (p *Paper) TradablePairs(_ context.Context) ([]PairInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PairInfo, len(p.pairs))
	copy(out, p.pairs)
	return out, nil
}

// PlaceOrder implements Connector. The order path runs through a circuit
// breaker so a failing venue trips open instead of being hammered.
func (p *Paper) PlaceOrder(ctx context.Context, pair string, orderType OrderType, direction Direction, amount, price float64) (*OrderResult, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.fill(pair, orderType, direction, amount, price)
	})
	if err != nil {
		return nil, err
	}
	return result.(*OrderResult), nil
}

func (p *Paper) fill(pair string, orderType OrderType, direction Direction, amount, price float64) (*OrderResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount %v", amount)
	}
	if direction != Buy && direction != Sell {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("no market data for %q", pair)
	}

	fillPrice := t.Close
	if orderType == Limit && price > 0 {
		fillPrice = price
	} else {
		// Market orders pay slippage in the direction of the trade.
		slip := fillPrice * p.slippagePct / 100
		if direction == Buy {
			fillPrice += slip
		} else {
			fillPrice -= slip
		}
	}

	order := &OrderResult{
		OrderID:   uuid.New().String(),
		Pair:      pair,
		Type:      orderType,
		Direction: direction,
		Amount:    amount,
		Price:     fillPrice,
		FeePaid:   fillPrice * amount * p.feePct / 100,
		Status:    StatusExecuted,
	}
	p.orders[order.OrderID] = order

	log.Debug().
		Str("order_id", order.OrderID).
		Str("pair", pair).
		Str("direction", string(direction)).
		Float64("price", fillPrice).
		Float64("amount", amount).
		Msg("Paper order filled")

	return order, nil
}

// AccountBalance implements Connector.
func (p *Paper) AccountBalance(_ context.Context) (map[string]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

// IsUSDQuoted reports whether a pair trades against USD, by quote metadata or
// by Kraken-style suffix.
func IsUSDQuoted(info PairInfo) bool {
	if info.Quote == "ZUSD" || info.Quote == "USD" {
		return true
	}
	return strings.HasSuffix(info.Pair, "USD")
}
