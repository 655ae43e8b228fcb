package db

import (
	"context"
	"fmt"
)

// schema holds the ordered DDL statements for a fresh database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patterns (
		id BIGSERIAL PRIMARY KEY,
		agent_id BIGINT NOT NULL,
		timestamp DOUBLE PRECISION NOT NULL,
		pattern_value DOUBLE PRECISION NOT NULL,
		raw_features TEXT NOT NULL,
		age_minutes DOUBLE PRECISION NOT NULL,
		decay_factor DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		trade_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		strategy_type TEXT NOT NULL,
		agent_id BIGINT NOT NULL,
		pattern_id BIGINT,
		entry_timestamp TIMESTAMPTZ NOT NULL,
		exit_timestamp TIMESTAMPTZ NOT NULL,
		hold_seconds DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		price_change_pct DOUBLE PRECISION NOT NULL,
		pnl_pct DOUBLE PRECISION NOT NULL,
		pnl_absolute DOUBLE PRECISION NOT NULL,
		result TEXT NOT NULL,
		entry_rsi DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_atr DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_mom DOUBLE PRECISION NOT NULL DEFAULT 0,
		signal_source TEXT NOT NULL DEFAULT '',
		prediction_score DOUBLE PRECISION,
		cross_moat_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		collision_detected BOOLEAN NOT NULL DEFAULT FALSE,
		position_size DOUBLE PRECISION NOT NULL DEFAULT 0,
		fees_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
		slippage_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_trade_id ON trades (trade_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades (pair)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_strategy_type ON trades (strategy_type)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_agent_id ON trades (agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_entry_timestamp ON trades (entry_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_result ON trades (result)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_agent_id ON patterns (agent_id)`,
}

// Migrate applies the schema. Statements are idempotent so re-running is
// safe.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i+1, err)
		}
	}
	db.log.Info().Int("statements", len(schema)).Msg("Schema applied")
	return nil
}
