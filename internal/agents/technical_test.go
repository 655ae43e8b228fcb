package agents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/agents/agenttest"
	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
)

func newTestTechnical(t *testing.T, fb *agenttest.FakeBus) *TechnicalAgent {
	t.Helper()
	ta, err := NewTechnicalAgent(TechnicalAgentConfig{
		Pair: "XXBTZUSD",
		Rand: rand.New(rand.NewSource(1)),
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	return ta
}

func marketFrame(price float64, ts float64) *model.FeatureFrame {
	return &model.FeatureFrame{
		Source:    "market_producer_test",
		Timestamp: ts,
		Target:    "XXBTZUSD",
		Features: map[string]float64{
			model.FeatureClose: price,
			model.FeatureHigh:  price * 1.01,
			model.FeatureLow:   price * 0.99,
		},
	}
}

func TestPeriodRandomizationStaysInRange(t *testing.T) {
	fb := agenttest.NewFakeBus()
	for i := 0; i < 20; i++ {
		ta := newTestTechnical(t, fb)
		assert.GreaterOrEqual(t, ta.rsiPeriod, 12)
		assert.LessOrEqual(t, ta.rsiPeriod, 16)
		assert.GreaterOrEqual(t, ta.macdFast, 11)
		assert.LessOrEqual(t, ta.macdFast, 13)
		assert.GreaterOrEqual(t, ta.macdSlow, 24)
		assert.LessOrEqual(t, ta.macdSlow, 28)
		assert.GreaterOrEqual(t, ta.bbPeriod, 18)
		assert.LessOrEqual(t, ta.bbPeriod, 22)
		ta.Close()
	}
}

func TestNoSignalBeforeWarmup(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	// The shortest possible warm-up window is 24 frames.
	for i := 0; i < 20; i++ {
		ta.HandleFrame(marketFrame(27000*(1-0.01*float64(i)), float64(i)))
	}
	assert.Empty(t, fb.Published(bus.TopicBaselineIdeas))
}

func TestDecliningSeriesEmitsOversoldBuy(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	price := 30000.0
	for i := 0; i < 40; i++ {
		ta.HandleFrame(marketFrame(price, float64(i*20)))
		price *= 0.99
	}

	ideas := fb.Published(bus.TopicBaselineIdeas)
	require.NotEmpty(t, ideas)

	var first model.TradeIdea
	require.NoError(t, ideas[0].Decode(&first))
	assert.Equal(t, exchange.Buy, first.Direction)
	assert.Equal(t, "RSI Oversold", first.SignalType)
	// A strictly declining series drives RSI to zero: maximum confidence.
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)
	assert.Equal(t, 0.001, first.Amount)
}

func TestSignalCooldownLimitsRate(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	// One frame per second on a relentlessly falling price: signal
	// candidates on every post-warmup frame, but the cooldown spaces
	// publishes at least 10 s apart.
	price := 30000.0
	for i := 0; i < 60; i++ {
		ta.HandleFrame(marketFrame(price, float64(i)))
		price *= 0.99
	}

	ideas := fb.Published(bus.TopicBaselineIdeas)
	require.NotEmpty(t, ideas)

	var prev model.TradeIdea
	require.NoError(t, ideas[0].Decode(&prev))
	for _, msg := range ideas[1:] {
		var cur model.TradeIdea
		require.NoError(t, msg.Decode(&cur))
		assert.GreaterOrEqual(t, cur.Timestamp.Sub(prev.Timestamp).Seconds(), 10.0)
		prev = cur
	}
}

func TestRisingSeriesEmitsOverboughtSell(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	price := 20000.0
	for i := 0; i < 40; i++ {
		ta.HandleFrame(marketFrame(price, float64(i*20)))
		price *= 1.01
	}

	ideas := fb.Published(bus.TopicBaselineIdeas)
	require.NotEmpty(t, ideas)

	var first model.TradeIdea
	require.NoError(t, ideas[0].Decode(&first))
	assert.Equal(t, exchange.Sell, first.Direction)
	assert.Equal(t, "RSI Overbought", first.SignalType)
}

func TestFlatSeriesStaysQuietAfterWarmup(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	// Alternating tiny moves keep RSI near 50, price inside the bands, and
	// MACD glued to its signal line.
	for i := 0; i < 60; i++ {
		price := 27000.0
		if i%2 == 1 {
			price = 27000.5
		}
		ta.HandleFrame(marketFrame(price, float64(i*20)))
	}

	for _, msg := range fb.Published(bus.TopicBaselineIdeas) {
		var idea model.TradeIdea
		require.NoError(t, msg.Decode(&idea))
		assert.NotEqual(t, "RSI Oversold", idea.SignalType)
		assert.NotEqual(t, "RSI Overbought", idea.SignalType)
	}
}

func TestBandTouchBoundary(t *testing.T) {
	// Inclusive at the band, stronger within 0.1%, weaker deeper through.
	assert.Equal(t, 0.70, bandTouchConfidence(100.0, 100.0, true))
	assert.Equal(t, 0.70, bandTouchConfidence(99.95, 100.0, true))
	assert.Equal(t, 0.60, bandTouchConfidence(99.80, 100.0, true))

	assert.Equal(t, 0.70, bandTouchConfidence(100.0, 100.0, false))
	assert.Equal(t, 0.70, bandTouchConfidence(100.05, 100.0, false))
	assert.Equal(t, 0.60, bandTouchConfidence(100.2, 100.0, false))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	fb := agenttest.NewFakeBus()
	ta := newTestTechnical(t, fb)
	defer ta.Close()

	require.NoError(t, fb.Publish("junk", bus.MarketDataTopic("XXBTZUSD"), "not a frame"))
	assert.Empty(t, fb.Published(bus.TopicBaselineIdeas))
}
