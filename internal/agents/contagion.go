package agents

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// NewContagionCheck returns a pre-tick hook implementing the policy-contagion
// heuristic: when the share of learners holding a high-conviction belief
// reaches the share bound, a FORCE_SHARE command prompts the swarm to refresh
// its policies so the conviction spreads through shared state.
func NewContagionCheck(st state.Store, b bus.Bus, scoreThreshold, shareBound float64, everyTicks uint64) func(ctx context.Context, tick uint64) {
	if everyTicks == 0 {
		everyTicks = 60
	}
	log := config.NewLogger("contagion")
	return func(ctx context.Context, tick uint64) {
		if tick == 0 || tick%everyTicks != 0 {
			return
		}
		checkContagion(ctx, st, b, scoreThreshold, shareBound, log)
	}
}

func checkContagion(ctx context.Context, st state.Store, b bus.Bus, scoreThreshold, shareBound float64, log zerolog.Logger) {
	keys, err := st.Keys(ctx, state.PolicyKeyPrefix)
	if err != nil || len(keys) == 0 {
		return
	}

	confident := 0
	total := 0
	for _, key := range keys {
		var record model.PolicyRecord
		if err := st.Get(ctx, key, &record); err != nil {
			continue
		}
		total++
		if record.PredictionScore >= scoreThreshold {
			confident++
		}
	}
	if total == 0 {
		return
	}

	share := float64(confident) / float64(total)
	if share < shareBound {
		return
	}

	log.Info().
		Int("confident", confident).
		Int("total", total).
		Msg("Policy contagion detected, forcing share")
	if err := b.Publish("contagion", bus.TopicSystemControl, &bus.ControlCommand{
		Command: bus.CommandForceShare,
		Reason:  "high-conviction policy share exceeded bound",
		Source:  "contagion",
	}); err != nil {
		log.Warn().Err(err).Msg("Force-share publish failed")
	}
}
