package db

import (
	"context"

	"github.com/quantfabric/mycelium/internal/model"
)

const insertPatternSQL = `
	INSERT INTO patterns (
		agent_id, timestamp, pattern_value, raw_features, age_minutes, decay_factor
	) VALUES ($1, $2, $3, $4, $5, $6)
`

// InsertPattern appends one archived pattern row.
func (db *DB) InsertPattern(ctx context.Context, p *model.ArchivedPattern) error {
	_, err := db.pool.Exec(ctx, insertPatternSQL,
		p.AgentID,
		p.Timestamp,
		p.PatternValue,
		p.RawFeatures,
		p.AgeMinutes,
		p.DecayFactor,
	)
	return err
}

// InsertPatterns appends a batch of archived patterns. Individual failures
// are logged and skipped; the count of persisted rows is returned.
func (db *DB) InsertPatterns(ctx context.Context, batch []*model.ArchivedPattern) int {
	persisted := 0
	for _, p := range batch {
		if err := db.InsertPattern(ctx, p); err != nil {
			db.log.Warn().Err(err).Uint64("agent_id", p.AgentID).Msg("Pattern insert failed")
			continue
		}
		persisted++
	}
	return persisted
}
