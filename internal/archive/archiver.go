// Package archive persists high-value decayed policies from volatile shared
// state into durable storage.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/metrics"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// PatternWriter is the storage surface the archiver needs.
type PatternWriter interface {
	InsertPatterns(ctx context.Context, batch []*model.ArchivedPattern) int
}

// Archiver scans shared state for policy records and persists those whose
// decayed value clears the threshold.
type Archiver struct {
	state     state.Store
	writer    PatternWriter
	threshold float64
	log       zerolog.Logger
}

// Config configures the archiver.
type Config struct {
	ValueThreshold float64 // default 40
}

// New creates an archiver over the given state store and pattern writer.
func New(cfg Config, st state.Store, writer PatternWriter) *Archiver {
	if cfg.ValueThreshold <= 0 {
		cfg.ValueThreshold = 40
	}
	return &Archiver{
		state:     st,
		writer:    writer,
		threshold: cfg.ValueThreshold,
		log:       config.NewLogger("archiver"),
	}
}

// Flush scans policy:* keys and persists qualifying records. Per-record
// failures are logged and skipped; the number of persisted rows is returned.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	keys, err := a.state.Keys(ctx, state.PolicyKeyPrefix)
	if err != nil {
		return 0, err
	}

	var batch []*model.ArchivedPattern
	for _, key := range keys {
		var record model.PolicyRecord
		if err := a.state.Get(ctx, key, &record); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Policy read failed")
			continue
		}
		if record.PatternCurrentValue < a.threshold {
			continue
		}

		raw, err := json.Marshal(record.RawFeatures)
		if err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Feature serialization failed")
			continue
		}
		batch = append(batch, &model.ArchivedPattern{
			AgentID:      record.AgentID,
			Timestamp:    float64(time.Now().UnixNano()) / 1e9,
			PatternValue: record.PatternCurrentValue,
			RawFeatures:  string(raw),
			AgeMinutes:   record.PatternAgeMinutes,
			DecayFactor:  record.PatternDecayFactor,
		})
	}

	if len(batch) == 0 {
		return 0, nil
	}

	persisted := a.writer.InsertPatterns(ctx, batch)
	metrics.ArchivedPatterns.Add(float64(persisted))
	a.log.Info().
		Int("scanned", len(keys)).
		Int("persisted", persisted).
		Msg("Archive flush complete")
	return persisted, nil
}
