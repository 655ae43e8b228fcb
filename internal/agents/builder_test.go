package agents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/agents/agenttest"
	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/model"
)

type stubAgent struct {
	id   uint64
	name string
}

func (s *stubAgent) ID() uint64                 { return s.id }
func (s *stubAgent) Name() string               { return s.name }
func (s *stubAgent) Kind() string               { return "stub" }
func (s *stubAgent) Step(context.Context) error { return nil }

type fakeRegistry struct {
	registered   []string
	deregistered []string
}

func (r *fakeRegistry) Register(a Agent) {
	r.registered = append(r.registered, a.Name())
}

func (r *fakeRegistry) Deregister(name string) bool {
	r.deregistered = append(r.deregistered, name)
	return true
}

func stubFactory(pair string, tmpl TeamTemplate) ([]Agent, error) {
	n := 1 + tmpl.TechnicalAgents + tmpl.Learners
	team := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		team = append(team, &stubAgent{id: nextID(), name: fmt.Sprintf("%s_stub_%d", pair, i)})
	}
	return team, nil
}

func newTestBuilder(t *testing.T, reg *fakeRegistry) *Builder {
	t.Helper()
	fb := agenttest.NewFakeBus()
	bd, err := NewBuilder(BuilderConfig{
		Registry: reg,
		Factory:  stubFactory,
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	return bd
}

func consensusFor(pair string) *model.Consensus {
	return &model.Consensus{Pair: pair, Team: string(TeamDayTrade), Votes: 2, Timestamp: time.Now()}
}

func TestDeploymentRegistersFullTeam(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	bd.HandleConsensus(consensusFor("XDGUSD"))

	// Default template: one producer, three TA agents, fifteen learners.
	assert.Len(t, reg.registered, 19)
	assert.True(t, bd.IsActive("XDGUSD"))
	assert.Equal(t, 1, bd.ActiveCount())
	assert.Equal(t, 0, bd.RejectedDeployments())
}

func TestCapacityGateRejectsSixteenthPair(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	for i := 0; i < 15; i++ {
		bd.MarkActive(fmt.Sprintf("PAIR%02dUSD", i), nil)
	}
	require.Equal(t, 15, bd.ActiveCount())

	bd.HandleConsensus(consensusFor("XDGUSD"))

	assert.Equal(t, 1, bd.RejectedDeployments())
	assert.Empty(t, reg.registered)
	assert.False(t, bd.IsActive("XDGUSD"))
	assert.Equal(t, 15, bd.ActiveCount())
}

func TestAlreadyActiveGate(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	bd.HandleConsensus(consensusFor("XDGUSD"))
	require.Len(t, reg.registered, 19)

	bd.HandleConsensus(consensusFor("XDGUSD"))
	assert.Equal(t, 1, bd.RejectedDeployments())
	assert.Len(t, reg.registered, 19, "duplicate consensus must not deploy twice")
}

func TestCooldownGateAfterHibernation(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	bd.HandleConsensus(consensusFor("XDGUSD"))
	require.Len(t, reg.registered, 19)

	bd.Hibernate("XDGUSD")
	assert.Len(t, reg.deregistered, 19)
	assert.False(t, bd.IsActive("XDGUSD"))

	// Capacity is free again, but the cooldown blocks immediate redeploy.
	bd.HandleConsensus(consensusFor("XDGUSD"))
	assert.Equal(t, 1, bd.RejectedDeployments())
	assert.Len(t, reg.registered, 19)
}

func TestHibernateUnknownPairIsNoOp(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	bd.Hibernate("NOPEUSD")
	assert.Empty(t, reg.deregistered)
}

func TestConsensusArrivesOverBus(t *testing.T) {
	fb := agenttest.NewFakeBus()
	reg := &fakeRegistry{}
	bd, err := NewBuilder(BuilderConfig{
		Registry: reg,
		Factory:  stubFactory,
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	defer bd.Close()

	require.NoError(t, fb.Publish("consensus", bus.TopicProspectingConsensus, consensusFor("XDGUSD")))
	assert.True(t, bd.IsActive("XDGUSD"))
	assert.Len(t, reg.registered, 19)
}

func TestFailedFactoryReleasesReservation(t *testing.T) {
	fb := agenttest.NewFakeBus()
	reg := &fakeRegistry{}
	bd, err := NewBuilder(BuilderConfig{
		Registry: reg,
		Factory: func(pair string, tmpl TeamTemplate) ([]Agent, error) {
			return nil, fmt.Errorf("no capital for %s", pair)
		},
	}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	defer bd.Close()

	bd.HandleConsensus(consensusFor("XDGUSD"))
	assert.False(t, bd.IsActive("XDGUSD"))
	assert.Equal(t, 1, bd.RejectedDeployments())
	assert.Empty(t, reg.registered)
}

func TestParseTeamTemplate(t *testing.T) {
	tmpl, err := ParseTeamTemplate([]byte("technical_agents: 2\nlearners: 5\nlearner_focus: [finance, code]\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, tmpl.TechnicalAgents)
	assert.Equal(t, 5, tmpl.Learners)
	assert.Equal(t, []string{"finance", "code"}, tmpl.LearnerFocus)

	// Omitted counts fall back to defaults.
	tmpl, err = ParseTeamTemplate([]byte("learners: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.TechnicalAgents)
	assert.Equal(t, 7, tmpl.Learners)

	_, err = ParseTeamTemplate([]byte("learners: -1\n"))
	assert.Error(t, err)

	_, err = ParseTeamTemplate([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestBuildRequestDeduplication(t *testing.T) {
	reg := &fakeRegistry{}
	bd := newTestBuilder(t, reg)
	defer bd.Close()

	req := &model.BuildRequest{ToolNeeded: "volatility-regime-classifier", Source: "learner_1"}
	bd.HandleBuildRequest(req)
	bd.HandleBuildRequest(req)

	bd.mu.Lock()
	_, seen := bd.buildRequests[req.ToolNeeded]
	n := len(bd.buildRequests)
	bd.mu.Unlock()
	assert.True(t, seen)
	assert.Equal(t, 1, n)

	// An expired entry is refreshed rather than dropped.
	bd.mu.Lock()
	bd.buildRequests[req.ToolNeeded] = time.Now().Add(-2 * bd.buildRequestTTL)
	bd.mu.Unlock()
	bd.HandleBuildRequest(req)

	bd.mu.Lock()
	last := bd.buildRequests[req.ToolNeeded]
	bd.mu.Unlock()
	assert.WithinDuration(t, time.Now(), last, time.Second)
}
