package db

import (
	"context"

	"github.com/quantfabric/mycelium/internal/model"
)

const insertTradeSQL = `
	INSERT INTO trades (
		trade_id, pair, strategy_type, agent_id, pattern_id,
		entry_timestamp, exit_timestamp, hold_seconds,
		entry_price, exit_price, price_change_pct, pnl_pct, pnl_absolute,
		result, entry_rsi, entry_atr, entry_mom, signal_source,
		prediction_score, cross_moat_score, collision_detected,
		position_size, fees_paid, slippage_pct
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24
	)
	ON CONFLICT (trade_id) DO NOTHING
`

// InsertTrade appends one completed round-trip. A duplicate trade_id is a
// silent no-op.
func (db *DB) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := db.pool.Exec(ctx, insertTradeSQL,
		t.TradeID,
		t.Pair,
		t.StrategyType,
		t.AgentID,
		t.PatternID,
		t.EntryTimestamp,
		t.ExitTimestamp,
		t.HoldSeconds,
		t.EntryPrice,
		t.ExitPrice,
		t.PriceChangePct,
		t.PnLPct,
		t.PnLAbsolute,
		t.Result,
		t.EntryRSI,
		t.EntryATR,
		t.EntryMOM,
		t.SignalSource,
		t.PredictionScore,
		t.CrossMoatScore,
		t.CollisionDetected,
		t.PositionSize,
		t.FeesPaid,
		t.SlippagePct,
	)
	return err
}
