package agents

import (
	"context"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"golang.org/x/time/rate"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/indicators"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindMarketProducer is the agent kind for market data producers.
const KindMarketProducer = "market_producer"

// MarketProducer polls the exchange ticker for one pair and publishes
// enriched feature frames on market-data:{pair}. Frames carry RSI, ATR and
// MOM once the rolling buffer holds at least period+1 samples.
type MarketProducer struct {
	Base

	pair          string
	period        int
	fetchInterval time.Duration
	limiter       *rate.Limiter

	lastFetch time.Time
	closes    []float64
	highs     []float64
	lows      []float64
	cached    *model.FeatureFrame
}

// MarketProducerConfig configures a market producer.
type MarketProducerConfig struct {
	Pair          string
	Period        int           // indicator period, default 14
	FetchInterval time.Duration // default 60s; 0 fetches on every step
}

// NewMarketProducer creates a market producer for one pair.
func NewMarketProducer(cfg MarketProducerConfig, b bus.Bus, st state.Store, conn exchange.Connector) *MarketProducer {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	// One fetch per interval on average, with a small burst allowance. A zero
	// interval disables limiting so backtests can step as fast as they like.
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.FetchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.FetchInterval), 5)
	}
	p := &MarketProducer{
		Base:          NewBase(KindMarketProducer, b, st, conn),
		pair:          cfg.Pair,
		period:        cfg.Period,
		fetchInterval: cfg.FetchInterval,
		limiter:       limiter,
	}
	return p
}

// Pair returns the pair this producer feeds.
func (p *MarketProducer) Pair() string { return p.pair }

// Step polls the ticker when the fetch interval has elapsed. Fetch failures
// fall back to the cached frame so downstream signals keep flowing.
func (p *MarketProducer) Step(ctx context.Context) error {
	now := time.Now()
	if p.fetchInterval > 0 && now.Sub(p.lastFetch) < p.fetchInterval {
		return nil
	}
	if !p.limiter.Allow() {
		return nil
	}
	p.lastFetch = now

	ticker, err := p.conn.Ticker(ctx, p.pair)
	if err != nil {
		if p.cached != nil {
			p.log.Debug().Err(err).Msg("Fetch failed, republishing cached frame")
			p.publish(bus.MarketDataTopic(p.pair), p.cached)
		} else {
			p.log.Warn().Err(err).Msg("Fetch failed, no cached frame")
		}
		return nil
	}

	p.observe(ticker)

	frame := p.buildFrame(now)
	if frame == nil {
		// Still warming up the rolling buffer.
		return nil
	}

	p.cached = frame
	p.publish(bus.MarketDataTopic(p.pair), frame)
	return nil
}

// observe appends the snapshot to the rolling buffer, bounded at 3x period.
func (p *MarketProducer) observe(t *exchange.Ticker) {
	limit := 3 * p.period
	p.closes = appendBounded(p.closes, t.Close, limit)
	p.highs = appendBounded(p.highs, t.High24h, limit)
	p.lows = appendBounded(p.lows, t.Low24h, limit)
}

// buildFrame derives the enriched frame, or nil before warm-up.
func (p *MarketProducer) buildFrame(now time.Time) *model.FeatureFrame {
	if len(p.closes) < p.period+1 {
		return nil
	}

	features := map[string]float64{
		model.FeatureClose: p.closes[len(p.closes)-1],
		model.FeatureHigh:  p.highs[len(p.highs)-1],
		model.FeatureLow:   p.lows[len(p.lows)-1],
		model.FeatureATR:   indicators.ATR(p.highs, p.lows, p.closes, p.period),
		model.FeatureMOM:   indicators.Momentum(p.closes, p.period),
	}
	if rsi, ok := streamRSI(p.closes, p.period); ok {
		features[model.FeatureRSI] = rsi
	}

	return &model.FeatureFrame{
		Source:    p.Name(),
		Timestamp: float64(now.UnixNano()) / 1e9,
		Target:    p.pair,
		Features:  features,
	}
}

// streamRSI computes the Wilder RSI over the buffer via the indicator
// library's streaming API, returning the latest value.
func streamRSI(prices []float64, period int) (float64, bool) {
	in := make(chan float64, len(prices))
	for _, v := range prices {
		in <- v
	}
	close(in)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	var last float64
	var any bool
	for v := range rsi.Compute(in) {
		last = v
		any = true
	}
	return last, any
}

func appendBounded(s []float64, v float64, limit int) []float64 {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
