package agents

import (
	"context"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/metrics"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindTrader is the agent kind for the signal-collision synthesizer.
const KindTrader = "trader"

// Stream names used in P&L bookkeeping and logs.
const (
	StreamBaseline    = "baseline"
	StreamMycelial    = "mycelial"
	StreamSynthesized = "synthesized"
)

// slot holds the most recent idea from one stream for one pair.
type slot struct {
	idea model.TradeIdea
	at   time.Time
}

// streamBook tracks one stream's open positions and cumulative P&L.
type streamBook struct {
	positions map[string]float64 // pair -> entry price
	pnl       model.StreamPnL
}

func newStreamBook() *streamBook {
	return &streamBook{positions: make(map[string]float64)}
}

// apply runs the open/close position semantics for one idea and returns the
// realized net P&L percent, or 0 when nothing closed. A buy while a position
// is open replaces the entry; a sell with no open position is ignored.
func (sb *streamBook) apply(idea *model.TradeIdea, roundTripCostPct float64) (float64, bool) {
	switch idea.Direction {
	case exchange.Buy:
		sb.positions[idea.Pair] = idea.CurrentPrice
		return 0, false
	case exchange.Sell:
		entry, open := sb.positions[idea.Pair]
		if !open || entry == 0 {
			return 0, false
		}
		delete(sb.positions, idea.Pair)
		raw := (idea.CurrentPrice - entry) / entry * 100
		net := raw - roundTripCostPct
		sb.pnl.CumulativePct += net
		sb.pnl.TradeCount++
		if net > 0 {
			sb.pnl.WinCount++
		}
		return net, true
	}
	return 0, false
}

// Trader is the signal-collision synthesizer. It trades only when the
// baseline and mycelial streams agree on direction for the same pair within
// the collision window, and tracks three P&L streams independently.
type Trader struct {
	Base

	collisionWindow  time.Duration
	roundTripCostPct float64
	orderAmount      float64

	recentBaseline map[string]slot
	recentMycelial map[string]slot

	baseline    *streamBook
	mycelial    *streamBook
	synthesized *streamBook
	executed    int
}

// TraderConfig configures the synthesizer.
type TraderConfig struct {
	CollisionWindow  time.Duration // default 5s
	RoundTripCostPct float64       // default 0.72
	OrderAmount      float64       // default 0.001
}

// NewTrader creates the synthesizer and subscribes it to both idea streams
// and to system-control.
func NewTrader(cfg TraderConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*Trader, error) {
	if cfg.CollisionWindow <= 0 {
		cfg.CollisionWindow = 5 * time.Second
	}
	if cfg.RoundTripCostPct <= 0 {
		cfg.RoundTripCostPct = 0.72
	}
	if cfg.OrderAmount <= 0 {
		cfg.OrderAmount = 0.001
	}

	t := &Trader{
		Base:             NewBase(KindTrader, b, st, conn),
		collisionWindow:  cfg.CollisionWindow,
		roundTripCostPct: cfg.RoundTripCostPct,
		orderAmount:      cfg.OrderAmount,
		recentBaseline:   make(map[string]slot),
		recentMycelial:   make(map[string]slot),
		baseline:         newStreamBook(),
		mycelial:         newStreamBook(),
		synthesized:      newStreamBook(),
	}

	if err := t.subscribeControl(); err != nil {
		return nil, err
	}
	if err := t.subscribe(bus.TopicBaselineIdeas, func(msg *bus.Message) {
		var idea model.TradeIdea
		if err := msg.Decode(&idea); err != nil {
			t.log.Warn().Err(err).Msg("Dropping malformed baseline idea")
			return
		}
		t.HandleIdea(StreamBaseline, &idea)
	}); err != nil {
		return nil, err
	}
	if err := t.subscribe(bus.TopicMycelialIdeas, func(msg *bus.Message) {
		var idea model.TradeIdea
		if err := msg.Decode(&idea); err != nil {
			t.log.Warn().Err(err).Msg("Dropping malformed mycelial idea")
			return
		}
		t.HandleIdea(StreamMycelial, &idea)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Step is a no-op; the trader reacts to ideas.
func (t *Trader) Step(context.Context) error { return nil }

// StreamState returns a copy of one stream's cumulative P&L.
func (t *Trader) StreamState(stream string) model.StreamPnL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.book(stream).pnl
}

// ExecutedCollisions returns the number of synthesized trades fired.
func (t *Trader) ExecutedCollisions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed
}

// OpenPosition returns the synthesized-stream entry price for a pair, if any.
func (t *Trader) OpenPosition(pair string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.synthesized.positions[pair]
	return entry, ok
}

func (t *Trader) book(stream string) *streamBook {
	switch stream {
	case StreamBaseline:
		return t.baseline
	case StreamMycelial:
		return t.mycelial
	default:
		return t.synthesized
	}
}

// HandleIdea stores the idea in its stream slot, updates that stream's
// simulated P&L, and checks the pair for a collision. Bus traffic and order
// placement happen outside the lock so a control command delivered during
// publish cannot re-enter the trader.
func (t *Trader) HandleIdea(stream string, idea *model.TradeIdea) {
	t.mu.Lock()
	s := slot{idea: *idea, at: idea.Timestamp}
	if stream == StreamBaseline {
		t.recentBaseline[idea.Pair] = s
	} else {
		t.recentMycelial[idea.Pair] = s
	}
	t.book(stream).apply(idea, t.roundTripCostPct)

	fire := t.checkCollisionLocked(idea.Pair)
	t.mu.Unlock()

	if fire == nil {
		return
	}
	t.execute(fire)
}

// firing captures a collision decision made under the lock.
type firing struct {
	entry  *model.SynthesizedLogEntry
	netPnL float64
	closed bool
}

// checkCollisionLocked fires a synthesized trade when both slots for the pair
// agree in direction within the collision window. Caller holds the mutex.
func (t *Trader) checkCollisionLocked(pair string) *firing {
	b, okB := t.recentBaseline[pair]
	m, okM := t.recentMycelial[pair]
	if !okB || !okM {
		return nil
	}

	gap := b.at.Sub(m.at)
	if gap < 0 {
		gap = -gap
	}
	if gap > t.collisionWindow {
		return nil
	}

	if b.idea.Direction != m.idea.Direction {
		metrics.CollisionConflicts.Inc()
		t.log.Info().
			Str("pair", pair).
			Str("baseline", string(b.idea.Direction)).
			Str("mycelial", string(m.idea.Direction)).
			Msg("Signal conflict, no trade")
		return nil
	}

	if t.halted {
		t.log.Info().Str("pair", pair).Msg("Collision ignored, trading halted")
		return nil
	}

	direction := b.idea.Direction
	price := m.idea.CurrentPrice
	synth := &model.TradeIdea{
		Source:       t.name,
		Pair:         pair,
		Direction:    direction,
		OrderType:    exchange.Market,
		Amount:       t.orderAmount,
		CurrentPrice: price,
		Timestamp:    m.at,
		Confidence:   (b.idea.Confidence + m.idea.Confidence) / 2,
	}
	netPnL, closed := t.synthesized.apply(synth, t.roundTripCostPct)

	// Clear both slots so the same collision cannot fire twice.
	delete(t.recentBaseline, pair)
	delete(t.recentMycelial, pair)

	return &firing{
		entry: &model.SynthesizedLogEntry{
			Pair:         pair,
			Direction:    direction,
			Price:        price,
			Amount:       t.orderAmount,
			Timestamp:    m.at,
			BaselineIdea: b.idea,
			MycelialIdea: m.idea,
			Baseline:     t.baseline.pnl,
			Mycelial:     t.mycelial.pnl,
			Synthesized:  t.synthesized.pnl,
		},
		netPnL: netPnL,
		closed: closed,
	}
}

// execute places the order, then publishes the synthesized log entry and the
// trade confirmation. A rejected order drops the collision: nothing is
// published, the executed count stays put, and the already-cleared slots mean
// the same collision is not retried. The simulated stream books keep their
// round trip either way; they track signal quality, not venue fills.
func (t *Trader) execute(fire *firing) {
	e := fire.entry
	result, err := t.conn.PlaceOrder(context.Background(), e.Pair, exchange.Market, e.Direction, e.Amount, e.Price)
	if err != nil {
		t.log.Error().Err(err).Str("pair", e.Pair).Msg("Order rejected, collision dropped")
		return
	}

	t.mu.Lock()
	t.executed++
	t.mu.Unlock()

	metrics.CollisionsExecuted.Inc()
	t.publish(bus.TopicSynthesizedLog, e)

	t.publish(bus.TopicTradeConfirmations, &model.Confirmation{
		TradeID:    result.OrderID,
		Pair:       e.Pair,
		Direction:  e.Direction,
		Amount:     e.Amount,
		Price:      e.Price,
		PnLPct:     fire.netPnL,
		Closed:     fire.closed,
		Timestamp:  e.Timestamp,
		SignalType: e.BaselineIdea.SignalType,
	})

	t.log.Info().
		Str("pair", e.Pair).
		Str("direction", string(e.Direction)).
		Float64("price", e.Price).
		Msg("Collision executed")
}
