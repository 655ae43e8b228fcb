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

// KindLearner is the agent kind for swarm pattern learners.
const KindLearner = "pattern_learner"

// Product focus values a learner can be parameterized with. Finance learners
// consume market frames; the others consume their moat's channel.
const (
	FocusFinance      = "Finance"
	FocusCode         = "Code"
	FocusLogistics    = "Logistics"
	FocusGovernment   = "Government"
	FocusCorporations = "Corporations"
)

const learnerHistoryWindow = 100

type learnerPosition int

const (
	posFlat learnerPosition = iota
	posLong
)

// Learner is one member of the pattern-learner swarm. Each learner carries a
// randomized strategy vector, publishes its belief state to shared state on
// every frame, and opportunistically emits mycelial trade ideas filtered by
// its own simulated P&L.
type Learner struct {
	Base

	pair         string
	productFocus string
	rsiThreshold float64
	atrMult      float64

	parentID   *uint64
	generation int
	birth      time.Time

	position   learnerPosition
	entryPrice float64

	simulatedPnL float64
	totalPnL     float64
	tradeCount   int
	history      []float64 // realized pct per round-trip, bounded

	lastPolicy *model.PolicyRecord
}

// LearnerConfig configures one pattern learner.
type LearnerConfig struct {
	Pair         string
	ProductFocus string // default Finance
	ParentID     *uint64
	Generation   int
	Rand         *rand.Rand // parameter jitter source; nil uses global
}

// NewLearner creates a pattern learner and subscribes it to its focus channel
// and to system-control.
func NewLearner(cfg LearnerConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*Learner, error) {
	if cfg.ProductFocus == "" {
		cfg.ProductFocus = FocusFinance
	}
	floatFn := rand.Float64
	if cfg.Rand != nil {
		floatFn = cfg.Rand.Float64
	}

	l := &Learner{
		Base:         NewBase(KindLearner, b, st, conn),
		pair:         cfg.Pair,
		productFocus: cfg.ProductFocus,
		rsiThreshold: 70 + (floatFn()*10 - 5), // 70 +/- 5
		atrMult:      0.8 + floatFn()*0.4,     // x0.8 - x1.2
		parentID:     cfg.ParentID,
		generation:   cfg.Generation,
		birth:        time.Now(),
	}

	if err := l.subscribeControl(); err != nil {
		return nil, err
	}
	if err := l.subscribe(l.focusTopic(), func(msg *bus.Message) {
		if l.Halted() {
			return
		}
		var frame model.FeatureFrame
		if err := msg.Decode(&frame); err != nil {
			l.log.Warn().Err(err).Msg("Dropping malformed frame")
			return
		}
		l.HandleFrame(&frame)
	}); err != nil {
		return nil, err
	}
	if err := l.subscribe(bus.TopicSystemControl, func(msg *bus.Message) {
		var cmd bus.ControlCommand
		if err := msg.Decode(&cmd); err != nil {
			return
		}
		if cmd.Command == bus.CommandForceShare {
			l.shareLastPolicy()
		}
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// focusTopic maps the product focus to its input channel.
func (l *Learner) focusTopic() string {
	switch l.productFocus {
	case FocusCode:
		return bus.CodeDataTopic(l.pair)
	case FocusLogistics:
		return bus.LogisticsDataTopic(l.pair)
	case FocusGovernment:
		return bus.GovtDataTopic(l.pair)
	case FocusCorporations:
		return bus.CorpDataTopic(l.pair)
	default:
		return bus.MarketDataTopic(l.pair)
	}
}

// Step is a no-op; learners react to frames.
func (l *Learner) Step(context.Context) error { return nil }

// Pair returns the asset the learner focuses on.
func (l *Learner) Pair() string { return l.pair }

// TotalPnL returns the learner's cumulative simulated P&L percent.
func (l *Learner) TotalPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPnL
}

// PositionOpen reports whether the learner holds an open simulated long.
func (l *Learner) PositionOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position == posLong
}

// HandleFrame runs the learner's belief update and trading rules for one
// incoming frame.
func (l *Learner) HandleFrame(frame *model.FeatureFrame) {
	closePrice, ok := frame.Features[model.FeatureClose]
	if !ok {
		return
	}
	rsi, hasRSI := frame.Features[model.FeatureRSI]
	if !hasRSI {
		rsi = 50
	}
	atr := frame.Features[model.FeatureATR]
	mom := frame.Features[model.FeatureMOM]

	score := indicators.Clip(0.5+2*math.Abs(mom)-0.05*atr, 0.1, 0.9)

	l.mu.Lock()
	record := l.buildPolicy(score, closePrice, rsi, mom, frame)
	l.lastPolicy = record
	l.mu.Unlock()

	l.writePolicy(record)

	if atr > 10 && rsi > 45 && rsi < 55 {
		l.publish(bus.TopicBuildRequest, &model.BuildRequest{
			ToolNeeded: "volatility-regime-classifier",
			Reason:     "high ATR with neutral RSI, no directional tool applies",
			Source:     l.Name(),
			Timestamp:  frame.Time(),
		})
	}

	l.mu.Lock()
	var idea *model.TradeIdea
	switch {
	case l.position == posFlat && score > 0.8 && rsi < 30 && mom > 0:
		l.position = posLong
		l.entryPrice = closePrice
		l.tradeCount++
		l.simulatedPnL = 0
		idea = l.buildIdea(exchange.Buy, closePrice, score, frame.Time())
	case l.position == posLong && rsi > l.rsiThreshold:
		realized := (closePrice - l.entryPrice) / l.entryPrice * 100
		l.totalPnL += realized
		l.simulatedPnL = realized
		l.history = appendBounded(l.history, realized, learnerHistoryWindow)
		l.entryPrice = 0
		l.position = posFlat
		idea = l.buildIdea(exchange.Sell, closePrice, score, frame.Time())
	}
	suppressed := idea != nil && l.totalPnL < -5 && l.tradeCount > 5
	l.mu.Unlock()

	if idea == nil {
		return
	}
	if suppressed {
		l.log.Debug().
			Float64("total_pnl", idea.TotalPnL).
			Int("trade_count", idea.TradeCount).
			Msg("Idea suppressed, losing strategy")
		return
	}

	metrics.IdeasPublished.WithLabelValues("mycelial").Inc()
	l.publish(bus.TopicMycelialIdeas, idea)
}

// buildPolicy assembles the belief-state record. Caller holds the mutex.
func (l *Learner) buildPolicy(score, closePrice, rsi, mom float64, frame *model.FeatureFrame) *model.PolicyRecord {
	age := frame.Time().Sub(l.birth).Minutes()
	if age < 0 {
		age = 0
	}
	decay := model.DecayFactor(age)

	raw := make(map[string]float64, len(frame.Features))
	for k, v := range frame.Features {
		raw[k] = v
	}

	return &model.PolicyRecord{
		PredictionScore: score,
		StrategyVector: [4]float64{
			l.rsiThreshold,
			l.atrMult,
			mom,
			100 - 2*math.Abs(50-rsi),
		},
		ClosePrice:          closePrice,
		ParentID:            l.parentID,
		Generation:          l.generation,
		BirthTimestamp:      float64(l.birth.UnixNano()) / 1e9,
		AgentID:             l.ID(),
		ProductFocus:        l.productFocus,
		PatternAgeMinutes:   age,
		PatternDecayFactor:  decay,
		PatternCurrentValue: model.CurrentValue(score, decay),
		RawFeatures:         raw,
	}
}

// buildIdea assembles a mycelial idea from current bookkeeping. Caller holds
// the mutex.
func (l *Learner) buildIdea(dir exchange.Direction, price, score float64, ts time.Time) *model.TradeIdea {
	interestingness := 40*score +
		indicators.Clip(l.totalPnL, -20, 20) + 20 +
		math.Min(40*math.Abs(score-0.5), 20)

	wins := 0
	for _, r := range l.history {
		if r > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(l.history) > 0 {
		winRate = float64(wins) / float64(len(l.history))
	}

	return &model.TradeIdea{
		Source:               l.Name(),
		Pair:                 l.pair,
		Direction:            dir,
		OrderType:            exchange.Market,
		Amount:               0.001,
		CurrentPrice:         price,
		Timestamp:            ts,
		Confidence:           score,
		PredictionScore:      score,
		InterestingnessScore: interestingness,
		SimulatedPnL:         l.simulatedPnL,
		TotalPnL:             l.totalPnL,
		WinRate:              winRate,
		TradeCount:           l.tradeCount,
		ProductFocus:         l.productFocus,
	}
}

// writePolicy overwrites the learner's shared-state belief snapshot.
func (l *Learner) writePolicy(record *model.PolicyRecord) {
	key := state.PolicyKeyPrefix + l.Name()
	if err := l.state.Set(context.Background(), key, record); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Policy write failed")
	}
}

// shareLastPolicy re-publishes the latest belief state, refreshed to current
// decay. The retained record is never mutated; the refresh happens on a copy,
// so a frame marshal running concurrently sees a consistent record. Triggered
// by a FORCE_SHARE control command.
func (l *Learner) shareLastPolicy() {
	l.mu.Lock()
	if l.lastPolicy == nil {
		l.mu.Unlock()
		return
	}
	record := *l.lastPolicy
	l.mu.Unlock()

	age := time.Since(l.birth).Minutes()
	record.PatternAgeMinutes = age
	record.PatternDecayFactor = model.DecayFactor(age)
	record.PatternCurrentValue = model.CurrentValue(record.PredictionScore, record.PatternDecayFactor)

	l.writePolicy(&record)
	l.log.Debug().Msg("Policy force-shared")
}
