package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/agents/agenttest"
	"github.com/quantfabric/mycelium/internal/bus"
)

type teardownProbe struct {
	flushes int
	closes  int
	stops   int
	order   []string
}

func newShutdownUnderTest(t *testing.T, fb *agenttest.FakeBus, probe *teardownProbe) *ShutdownCoordinator {
	t.Helper()
	c, err := NewShutdownCoordinator(ShutdownConfig{
		Flush: func(context.Context) error {
			probe.flushes++
			probe.order = append(probe.order, "flush")
			return nil
		},
		Closers: []func() error{
			func() error {
				probe.closes++
				probe.order = append(probe.order, "close")
				return nil
			},
		},
		Stop: func() {
			probe.stops++
			probe.order = append(probe.order, "stop")
		},
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	return c
}

func TestEmergencyShutdownSequence(t *testing.T) {
	fb := agenttest.NewFakeBus()
	probe := &teardownProbe{}
	c := newShutdownUnderTest(t, fb, probe)
	defer c.Close()

	require.NoError(t, fb.Publish("operator", bus.TopicSystemControl, &bus.ControlCommand{
		Command: bus.CommandEmergencyShutdown,
		Reason:  "operator request",
	}))

	assert.Equal(t, []string{"flush", "close", "stop"}, probe.order)

	// The coordinator broadcasts a halt before flushing.
	var sawHalt bool
	for _, msg := range fb.Published(bus.TopicSystemControl) {
		var cmd bus.ControlCommand
		require.NoError(t, msg.Decode(&cmd))
		if cmd.Command == bus.CommandHaltTrading && cmd.Source == c.Name() {
			sawHalt = true
		}
	}
	assert.True(t, sawHalt)
}

func TestShutdownRunsOnce(t *testing.T) {
	fb := agenttest.NewFakeBus()
	probe := &teardownProbe{}
	c := newShutdownUnderTest(t, fb, probe)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Shutdown("repeat")
	}
	assert.Equal(t, 1, probe.flushes)
	assert.Equal(t, 1, probe.closes)
	assert.Equal(t, 1, probe.stops)
}

func TestShutdownSurvivesFailingSteps(t *testing.T) {
	fb := agenttest.NewFakeBus()
	stopped := false
	c, err := NewShutdownCoordinator(ShutdownConfig{
		Flush:   func(context.Context) error { return errors.New("state unavailable") },
		Closers: []func() error{func() error { return errors.New("already closed") }},
		Stop:    func() { stopped = true },
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	defer c.Close()

	c.Shutdown("failure path")
	assert.True(t, stopped, "scheduler stop runs even when earlier steps fail")
}

func TestHaltCommandDoesNotTriggerShutdown(t *testing.T) {
	fb := agenttest.NewFakeBus()
	probe := &teardownProbe{}
	c := newShutdownUnderTest(t, fb, probe)
	defer c.Close()

	require.NoError(t, fb.Publish("risk", bus.TopicSystemControl, &bus.ControlCommand{
		Command: bus.CommandHaltTrading,
	}))
	assert.Zero(t, probe.stops)
	assert.Zero(t, probe.flushes)
}
