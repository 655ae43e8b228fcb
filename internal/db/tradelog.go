package db

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
)

// TradeLogger pairs open and close confirmations per pair and writes one
// durable trade row per completed round-trip.
type TradeLogger struct {
	db  *DB
	sub bus.Subscription
	log zerolog.Logger

	mu    sync.Mutex
	opens map[string]*model.Confirmation // pair -> open confirmation
}

// NewTradeLogger creates the logger and subscribes it to trade-confirmations.
func NewTradeLogger(b bus.Bus, database *DB) (*TradeLogger, error) {
	tl := &TradeLogger{
		db:    database,
		log:   config.NewLogger("trade_logger"),
		opens: make(map[string]*model.Confirmation),
	}

	sub, err := b.Subscribe("trade_logger", bus.TopicTradeConfirmations, func(msg *bus.Message) {
		var conf model.Confirmation
		if err := msg.Decode(&conf); err != nil {
			tl.log.Warn().Err(err).Msg("Dropping malformed confirmation")
			return
		}
		tl.Handle(context.Background(), &conf)
	})
	if err != nil {
		return nil, err
	}
	tl.sub = sub
	return tl, nil
}

// Handle records an open or completes a round-trip. A close without a
// matching open is logged and skipped.
func (tl *TradeLogger) Handle(ctx context.Context, conf *model.Confirmation) {
	tl.mu.Lock()
	if !conf.Closed {
		if conf.Direction == exchange.Buy {
			tl.opens[conf.Pair] = conf
		}
		tl.mu.Unlock()
		return
	}
	open, ok := tl.opens[conf.Pair]
	if ok {
		delete(tl.opens, conf.Pair)
	}
	tl.mu.Unlock()

	if !ok {
		tl.log.Debug().Str("pair", conf.Pair).Msg("Close without recorded open, skipping")
		return
	}

	result := "LOSS"
	if conf.PnLPct > 0 {
		result = "WIN"
	}
	priceChange := 0.0
	if open.Price > 0 {
		priceChange = (conf.Price - open.Price) / open.Price * 100
	}

	row := &model.TradeRecord{
		TradeID:           conf.TradeID,
		Pair:              conf.Pair,
		StrategyType:      "synthesized",
		EntryTimestamp:    open.Timestamp,
		ExitTimestamp:     conf.Timestamp,
		HoldSeconds:       conf.Timestamp.Sub(open.Timestamp).Seconds(),
		EntryPrice:        open.Price,
		ExitPrice:         conf.Price,
		PriceChangePct:    priceChange,
		PnLPct:            conf.PnLPct,
		PnLAbsolute:       conf.PnLPct / 100 * open.Price * conf.Amount,
		Result:            result,
		SignalSource:      conf.SignalType,
		CollisionDetected: true,
		PositionSize:      conf.Amount,
	}
	if err := tl.db.InsertTrade(ctx, row); err != nil {
		tl.log.Warn().Err(err).Str("trade_id", row.TradeID).Msg("Trade insert failed")
	}
}

// Close drops the subscription.
func (tl *TradeLogger) Close() error {
	if tl.sub != nil {
		return tl.sub.Unsubscribe()
	}
	return nil
}
