package agents

import (
	"context"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindPnLTracker is the agent kind for the per-asset P&L lifecycle tracker.
const KindPnLTracker = "pnl_tracker"

// Probation tiers and the hibernation rule.
const (
	probationTier1      = -5.0
	probationTier2      = -10.0
	hibernationPnL      = -15.0
	hibernationDuration = 90 * 24 * time.Hour
)

var positionSizeMultipliers = [3]float64{1.0, 0.5, 0.25}

// AssetRecord is the tracked lifecycle state for one pair.
type AssetRecord struct {
	Pair                   string
	CumulativePnL          float64
	TradeCount             int
	WinCount               int
	LossCount              int
	ProbationLevel         int // 0, 1, or 2
	PositionSizeMultiplier float64
	FirstTradeTS           time.Time
	LastTradeTS            time.Time
	ProbationStartTS       *time.Time
	WorstDrawdown          float64
}

// Hibernator removes an agent population for a retired pair. Implemented by
// the builder; decoupled so the tracker never touches the scheduler directly.
type Hibernator interface {
	Hibernate(pair string)
}

// PnLTracker maintains per-pair cumulative P&L with probation tiers and the
// hibernation trigger for chronically losing assets.
type PnLTracker struct {
	Base

	assets     map[string]*AssetRecord
	hibernator Hibernator
}

// NewPnLTracker creates the tracker and subscribes it to trade confirmations.
// The hibernator may be nil, in which case retirement only publishes the
// notice.
func NewPnLTracker(hibernator Hibernator, b bus.Bus, st state.Store, conn exchange.Connector) (*PnLTracker, error) {
	t := &PnLTracker{
		Base:       NewBase(KindPnLTracker, b, st, conn),
		assets:     make(map[string]*AssetRecord),
		hibernator: hibernator,
	}

	if err := t.subscribe(bus.TopicTradeConfirmations, func(msg *bus.Message) {
		var conf model.Confirmation
		if err := msg.Decode(&conf); err != nil {
			t.log.Warn().Err(err).Msg("Dropping malformed confirmation")
			return
		}
		if !conf.Closed {
			return
		}
		t.RecordTrade(conf.Pair, conf.PnLPct, conf.Timestamp)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Step is a no-op; the tracker reacts to confirmations.
func (t *PnLTracker) Step(context.Context) error { return nil }

// Asset returns a copy of the record for a pair, if tracked.
func (t *PnLTracker) Asset(pair string) (AssetRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.assets[pair]
	if !ok {
		return AssetRecord{}, false
	}
	return *rec, true
}

// RecordTrade applies one realized round-trip to the pair's record, updating
// probation state and checking the hibernation rule.
func (t *PnLTracker) RecordTrade(pair string, pnlPct float64, at time.Time) {
	t.mu.Lock()
	rec, ok := t.assets[pair]
	if !ok {
		rec = &AssetRecord{
			Pair:                   pair,
			PositionSizeMultiplier: 1.0,
			FirstTradeTS:           at,
		}
		t.assets[pair] = rec
	}

	rec.CumulativePnL += pnlPct
	rec.TradeCount++
	rec.LastTradeTS = at
	if pnlPct > 0 {
		rec.WinCount++
	} else {
		rec.LossCount++
	}
	if rec.CumulativePnL < rec.WorstDrawdown {
		rec.WorstDrawdown = rec.CumulativePnL
	}

	prevLevel := rec.ProbationLevel
	switch {
	case rec.CumulativePnL >= probationTier1:
		rec.ProbationLevel = 0
	case rec.CumulativePnL >= probationTier2:
		rec.ProbationLevel = 1
	default:
		rec.ProbationLevel = 2
	}
	rec.PositionSizeMultiplier = positionSizeMultipliers[rec.ProbationLevel]

	if prevLevel == 0 && rec.ProbationLevel >= 1 {
		start := at
		rec.ProbationStartTS = &start
	} else if prevLevel >= 1 && rec.ProbationLevel == 0 {
		rec.ProbationStartTS = nil
	}

	hibernate := rec.CumulativePnL < hibernationPnL &&
		rec.ProbationStartTS != nil &&
		at.Sub(*rec.ProbationStartTS) >= hibernationDuration

	var notice *model.HibernationNotice
	if hibernate {
		notice = &model.HibernationNotice{
			Pair:          pair,
			Reason:        "chronic losses beyond hibernation threshold",
			FinalPnL:      rec.CumulativePnL,
			ProbationDays: at.Sub(*rec.ProbationStartTS).Hours() / 24,
			Timestamp:     at,
		}
		delete(t.assets, pair)
	}
	t.mu.Unlock()

	if notice == nil {
		return
	}

	t.log.Warn().
		Str("pair", pair).
		Float64("final_pnl", notice.FinalPnL).
		Msg("Hibernating asset")
	if t.hibernator != nil {
		t.hibernator.Hibernate(pair)
	}
	t.publish(bus.TopicHibernation, notice)
}
