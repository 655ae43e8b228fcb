package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/agents/agenttest"
	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/model"
)

type fakeHibernator struct {
	pairs []string
}

func (f *fakeHibernator) Hibernate(pair string) {
	f.pairs = append(f.pairs, pair)
}

func newTestTracker(t *testing.T, fb *agenttest.FakeBus, h Hibernator) *PnLTracker {
	t.Helper()
	tr, err := NewPnLTracker(h, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	return tr
}

func TestProbationTransitions(t *testing.T) {
	fb := agenttest.NewFakeBus()
	tr := newTestTracker(t, fb, nil)
	defer tr.Close()

	now := time.Now()
	for _, pnl := range []float64{-2, -2, -2} {
		tr.RecordTrade("XADAUSD", pnl, now)
	}

	rec, ok := tr.Asset("XADAUSD")
	require.True(t, ok)
	assert.Equal(t, 1, rec.ProbationLevel, "cumulative -6%% is tier 1")
	assert.Equal(t, 0.5, rec.PositionSizeMultiplier)
	assert.NotNil(t, rec.ProbationStartTS)

	tr.RecordTrade("XADAUSD", -3, now)
	rec, _ = tr.Asset("XADAUSD")
	assert.InDelta(t, -9, rec.CumulativePnL, 1e-9)
	assert.Equal(t, 1, rec.ProbationLevel)
	assert.Equal(t, 0.5, rec.PositionSizeMultiplier)

	tr.RecordTrade("XADAUSD", -3, now)
	rec, _ = tr.Asset("XADAUSD")
	assert.InDelta(t, -12, rec.CumulativePnL, 1e-9)
	assert.Equal(t, 2, rec.ProbationLevel)
	assert.Equal(t, 0.25, rec.PositionSizeMultiplier)
}

func TestProbationRecoveryClearsStart(t *testing.T) {
	fb := agenttest.NewFakeBus()
	tr := newTestTracker(t, fb, nil)
	defer tr.Close()

	now := time.Now()
	tr.RecordTrade("XADAUSD", -6, now)
	rec, _ := tr.Asset("XADAUSD")
	require.Equal(t, 1, rec.ProbationLevel)
	require.NotNil(t, rec.ProbationStartTS)

	tr.RecordTrade("XADAUSD", +4, now)
	rec, _ = tr.Asset("XADAUSD")
	assert.Equal(t, 0, rec.ProbationLevel)
	assert.Equal(t, 1.0, rec.PositionSizeMultiplier)
	assert.Nil(t, rec.ProbationStartTS)
}

func TestMultiplierInvariant(t *testing.T) {
	fb := agenttest.NewFakeBus()
	tr := newTestTracker(t, fb, nil)
	defer tr.Close()

	now := time.Now()
	pnls := []float64{-2, -2, -2, -3, -3, +5, +5, +5, -1, +2}
	for _, pnl := range pnls {
		tr.RecordTrade("XXBTZUSD", pnl, now)
		rec, ok := tr.Asset("XXBTZUSD")
		require.True(t, ok)
		assert.Equal(t, positionSizeMultipliers[rec.ProbationLevel], rec.PositionSizeMultiplier)
	}
}

func TestWinLossCounts(t *testing.T) {
	fb := agenttest.NewFakeBus()
	tr := newTestTracker(t, fb, nil)
	defer tr.Close()

	now := time.Now()
	tr.RecordTrade("XXBTZUSD", +2, now)
	tr.RecordTrade("XXBTZUSD", -1, now)
	tr.RecordTrade("XXBTZUSD", +3, now)

	rec, _ := tr.Asset("XXBTZUSD")
	assert.Equal(t, 3, rec.TradeCount)
	assert.Equal(t, 2, rec.WinCount)
	assert.Equal(t, 1, rec.LossCount)
	assert.InDelta(t, 4, rec.CumulativePnL, 1e-9)
}

func TestHibernationAfterProlongedLosses(t *testing.T) {
	fb := agenttest.NewFakeBus()
	h := &fakeHibernator{}
	tr := newTestTracker(t, fb, h)
	defer tr.Close()

	start := time.Now()
	tr.RecordTrade("XADAUSD", -8, start) // tier 1, probation clock starts
	tr.RecordTrade("XADAUSD", -5, start) // -13%, tier 2

	// Still above the hibernation P&L threshold after 91 days: no trigger
	// until the loss deepens.
	later := start.Add(91 * 24 * time.Hour)
	tr.RecordTrade("XADAUSD", -1, later) // -14%
	_, stillTracked := tr.Asset("XADAUSD")
	assert.True(t, stillTracked)
	assert.Empty(t, h.pairs)

	tr.RecordTrade("XADAUSD", -2, later) // -16%, 91 days in probation
	_, stillTracked = tr.Asset("XADAUSD")
	assert.False(t, stillTracked, "hibernated pair is removed from the registry")
	assert.Equal(t, []string{"XADAUSD"}, h.pairs)

	notices := fb.Published(bus.TopicHibernation)
	require.Len(t, notices, 1)
	var notice model.HibernationNotice
	require.NoError(t, notices[0].Decode(&notice))
	assert.Equal(t, "XADAUSD", notice.Pair)
	assert.InDelta(t, -16, notice.FinalPnL, 1e-9)
	assert.InDelta(t, 91, notice.ProbationDays, 0.01)
}

func TestNoHibernationBeforeQualifyingDuration(t *testing.T) {
	fb := agenttest.NewFakeBus()
	h := &fakeHibernator{}
	tr := newTestTracker(t, fb, h)
	defer tr.Close()

	start := time.Now()
	tr.RecordTrade("XADAUSD", -20, start) // deep loss, day zero
	_, stillTracked := tr.Asset("XADAUSD")
	assert.True(t, stillTracked)
	assert.Empty(t, h.pairs)
	assert.Empty(t, fb.Published(bus.TopicHibernation))
}

func TestTrackerConsumesClosedConfirmations(t *testing.T) {
	fb := agenttest.NewFakeBus()
	tr := newTestTracker(t, fb, nil)
	defer tr.Close()

	require.NoError(t, fb.Publish("trader", bus.TopicTradeConfirmations, confirmation(-2, true)))
	require.NoError(t, fb.Publish("trader", bus.TopicTradeConfirmations, confirmation(0, false)))

	rec, ok := tr.Asset("XXBTZUSD")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TradeCount, "opens are not trades")
}
