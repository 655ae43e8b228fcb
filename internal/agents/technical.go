package agents

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/indicators"
	"github.com/quantfabric/mycelium/internal/metrics"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindTechnical is the agent kind for baseline signal producers.
const KindTechnical = "technical"

const taWindowSize = 100

// TechnicalAgent is the baseline signal producer for one pair. Each team
// deploys three of them with slightly randomized indicator periods so their
// signals are correlated but not identical.
type TechnicalAgent struct {
	Base

	pair     string
	cooldown time.Duration

	rsiPeriod  int
	macdFast   int
	macdSlow   int
	macdSignal int
	bbPeriod   int
	bbStdDev   float64
	minWindow  int

	closes     []float64
	highs      []float64
	lows       []float64
	timestamps []float64

	prevMACD   float64
	prevSignal float64
	havePrev   bool

	lastIdeaAt float64 // frame-clock seconds; zero until first emit
	orderAmt   float64
}

// TechnicalAgentConfig configures a baseline signal producer.
type TechnicalAgentConfig struct {
	Pair        string
	Cooldown    time.Duration // minimum spacing between ideas, default 10s
	OrderAmount float64       // default 0.001
	Rand        *rand.Rand    // period jitter source; nil uses global
}

// NewTechnicalAgent creates a TA agent and subscribes it to the pair's
// market-data channel.
func NewTechnicalAgent(cfg TechnicalAgentConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*TechnicalAgent, error) {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.OrderAmount <= 0 {
		cfg.OrderAmount = 0.001
	}
	intn := rand.Intn
	if cfg.Rand != nil {
		intn = cfg.Rand.Intn
	}

	a := &TechnicalAgent{
		Base:       NewBase(KindTechnical, b, st, conn),
		pair:       cfg.Pair,
		cooldown:   cfg.Cooldown,
		rsiPeriod:  14 + intn(5) - 2, // 14 +/- 2
		macdFast:   12 + intn(3) - 1, // 12 +/- 1
		macdSlow:   26 + intn(5) - 2, // 26 +/- 2
		macdSignal: 9,
		bbPeriod:   20 + intn(5) - 2, // 20 +/- 2
		bbStdDev:   2.0,
		orderAmt:   cfg.OrderAmount,
	}
	a.minWindow = a.macdSlow
	if a.rsiPeriod > a.minWindow {
		a.minWindow = a.rsiPeriod
	}

	if err := a.subscribe(bus.MarketDataTopic(cfg.Pair), func(msg *bus.Message) {
		var frame model.FeatureFrame
		if err := msg.Decode(&frame); err != nil {
			a.log.Warn().Err(err).Msg("Dropping malformed market frame")
			return
		}
		a.HandleFrame(&frame)
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Step is a no-op; the agent is purely reactive to market frames.
func (a *TechnicalAgent) Step(context.Context) error { return nil }

// HandleFrame ingests one market frame and emits at most one trade idea: the
// highest-confidence candidate, subject to the signal cooldown.
func (a *TechnicalAgent) HandleFrame(frame *model.FeatureFrame) {
	closePrice, ok := frame.Features[model.FeatureClose]
	if !ok {
		return
	}
	high := frame.Features[model.FeatureHigh]
	low := frame.Features[model.FeatureLow]

	a.closes = appendBounded(a.closes, closePrice, taWindowSize)
	a.highs = appendBounded(a.highs, high, taWindowSize)
	a.lows = appendBounded(a.lows, low, taWindowSize)
	a.timestamps = appendBounded(a.timestamps, frame.Timestamp, taWindowSize)

	if len(a.closes) < a.minWindow {
		return
	}

	idea := a.bestCandidate(closePrice, frame.Timestamp)
	if idea == nil {
		return
	}

	// Cooldown is measured on the frame clock so replayed feeds behave the
	// same as live ones.
	if a.lastIdeaAt != 0 && frame.Timestamp-a.lastIdeaAt < a.cooldown.Seconds() {
		return
	}
	a.lastIdeaAt = frame.Timestamp

	metrics.IdeasPublished.WithLabelValues("baseline").Inc()
	a.publish(bus.TopicBaselineIdeas, idea)
	a.log.Debug().
		Str("pair", a.pair).
		Str("signal", idea.SignalType).
		Str("direction", string(idea.Direction)).
		Float64("confidence", idea.Confidence).
		Msg("Baseline idea emitted")
}

// bandTouchConfidence grades a band breach: the stronger signal applies when
// price is within 0.1% of the band, inclusive at the band itself.
func bandTouchConfidence(price, band float64, lowerBand bool) float64 {
	if lowerBand {
		if price >= band*0.999 {
			return 0.70
		}
		return 0.60
	}
	if price <= band*1.001 {
		return 0.70
	}
	return 0.60
}

type candidate struct {
	signalType string
	direction  exchange.Direction
	confidence float64
	indicator  float64
}

// bestCandidate evaluates the rule table and returns the highest-confidence
// idea, or nil when no rule fires.
func (a *TechnicalAgent) bestCandidate(price, ts float64) *model.TradeIdea {
	var candidates []candidate

	rsi := indicators.RSI(a.closes, a.rsiPeriod)
	switch {
	case rsi < 30:
		candidates = append(candidates, candidate{
			signalType: "RSI Oversold",
			direction:  exchange.Buy,
			confidence: math.Min((30-rsi)/30, 0.9),
			indicator:  rsi,
		})
	case rsi > 70:
		candidates = append(candidates, candidate{
			signalType: "RSI Overbought",
			direction:  exchange.Sell,
			confidence: math.Min((rsi-70)/30, 0.9),
			indicator:  rsi,
		})
	}

	if macd, signal, ok := indicators.MACD(a.closes, a.macdFast, a.macdSlow, a.macdSignal); ok {
		if a.havePrev {
			conf := indicators.Clip(math.Abs(macd-signal)*10, 0.55, 0.85)
			if a.prevMACD <= a.prevSignal && macd > signal {
				candidates = append(candidates, candidate{
					signalType: "MACD Bullish Cross",
					direction:  exchange.Buy,
					confidence: conf,
					indicator:  macd,
				})
			} else if a.prevMACD >= a.prevSignal && macd < signal {
				candidates = append(candidates, candidate{
					signalType: "MACD Bearish Cross",
					direction:  exchange.Sell,
					confidence: conf,
					indicator:  macd,
				})
			}
		}
		a.prevMACD, a.prevSignal, a.havePrev = macd, signal, true
	}

	if upper, mid, lower, ok := indicators.Bollinger(a.closes, a.bbPeriod, a.bbStdDev); ok {
		switch {
		case price <= lower:
			candidates = append(candidates, candidate{
				signalType: "BB Lower Touch",
				direction:  exchange.Buy,
				confidence: bandTouchConfidence(price, lower, true),
				indicator:  lower,
			})
		case price >= upper:
			candidates = append(candidates, candidate{
				signalType: "BB Upper Touch",
				direction:  exchange.Sell,
				confidence: bandTouchConfidence(price, upper, false),
				indicator:  upper,
			})
		case price > 1.02*mid:
			candidates = append(candidates, candidate{
				signalType: "MA Breakout Up",
				direction:  exchange.Buy,
				confidence: 0.65,
				indicator:  mid,
			})
		case price < 0.98*mid:
			candidates = append(candidates, candidate{
				signalType: "MA Breakout Down",
				direction:  exchange.Sell,
				confidence: 0.65,
				indicator:  mid,
			})
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.confidence > best.confidence {
			best = c
		}
	}

	return &model.TradeIdea{
		Source:         a.Name(),
		Pair:           a.pair,
		Direction:      best.direction,
		OrderType:      exchange.Market,
		Amount:         a.orderAmt,
		CurrentPrice:   price,
		Timestamp:      time.Unix(int64(ts), int64((ts-math.Floor(ts))*1e9)),
		Confidence:     best.confidence,
		SignalType:     best.signalType,
		IndicatorValue: best.indicator,
	}
}
