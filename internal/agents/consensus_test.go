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

func newTestAggregator(t *testing.T, fb *agenttest.FakeBus) *ConsensusAggregator {
	t.Helper()
	c, err := NewConsensusAggregator(ConsensusConfig{}, fb, agenttest.NewState(t), newTestVenue())
	require.NoError(t, err)
	return c
}

func proposal(team Team, pair, agent string, conf float64, at time.Time) *model.Proposal {
	return &model.Proposal{
		Pair:       pair,
		Team:       string(team),
		Agent:      agent,
		Score:      int(conf * 8),
		Confidence: conf,
		Timestamp:  at,
	}
}

func TestQuorumPublishesConsensus(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_1", 0.75, now))
	assert.Empty(t, fb.Published(bus.TopicProspectingConsensus))

	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_2", 0.75, now.Add(time.Minute)))

	msgs := fb.Published(bus.TopicProspectingConsensus)
	require.Len(t, msgs, 1)
	var cons model.Consensus
	require.NoError(t, msgs[0].Decode(&cons))
	assert.Equal(t, "XDGUSD", cons.Pair)
	assert.Equal(t, string(TeamDayTrade), cons.Team)
	assert.Equal(t, 2, cons.Votes)
}

func TestSameAgentCannotDoubleVote(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamHFT, "XDGUSD", "prospector_1", 0.80, now))
	c.HandleProposal(proposal(TeamHFT, "XDGUSD", "prospector_1", 0.80, now.Add(time.Minute)))
	c.HandleProposal(proposal(TeamHFT, "XDGUSD", "prospector_1", 0.80, now.Add(2*time.Minute)))

	assert.Empty(t, fb.Published(bus.TopicProspectingConsensus))
}

func TestLowConfidenceProposalIgnored(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamSwing, "XDGUSD", "prospector_1", 0.625, now))
	c.HandleProposal(proposal(TeamSwing, "XDGUSD", "prospector_2", 0.75, now))

	// The 5/8 vote never counted, so one qualifying vote is not a quorum.
	assert.Empty(t, fb.Published(bus.TopicProspectingConsensus))
}

func TestStaleVotesExpire(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_1", 0.75, now))
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_2", 0.75, now.Add(6*time.Minute)))

	// The first vote fell outside the window before the second arrived.
	assert.Empty(t, fb.Published(bus.TopicProspectingConsensus))

	// A third vote inside the window of the second completes the quorum.
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_3", 0.75, now.Add(8*time.Minute)))
	assert.Len(t, fb.Published(bus.TopicProspectingConsensus), 1)
}

func TestTeamsVoteIndependently(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamHFT, "XDGUSD", "prospector_1", 0.75, now))
	c.HandleProposal(proposal(TeamSwing, "XDGUSD", "prospector_2", 0.75, now))

	// One vote per team: no team has a quorum.
	assert.Empty(t, fb.Published(bus.TopicProspectingConsensus))
}

func TestVotesClearedAfterConsensus(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_1", 0.75, now))
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_2", 0.75, now))
	require.Len(t, fb.Published(bus.TopicProspectingConsensus), 1)

	// A late third vote alone must not re-fire the consumed agreement.
	c.HandleProposal(proposal(TeamDayTrade, "XDGUSD", "prospector_3", 0.75, now.Add(time.Minute)))
	assert.Len(t, fb.Published(bus.TopicProspectingConsensus), 1)
}

func TestProposalsArriveOverBus(t *testing.T) {
	fb := agenttest.NewFakeBus()
	c := newTestAggregator(t, fb)
	defer c.Close()

	now := time.Now()
	topic := bus.ProspectingProposalsTopic(string(TeamHFT))
	require.NoError(t, fb.Publish("p1", topic, proposal(TeamHFT, "XDGUSD", "prospector_1", 0.75, now)))
	require.NoError(t, fb.Publish("p2", topic, proposal(TeamHFT, "XDGUSD", "prospector_2", 0.75, now)))

	assert.Len(t, fb.Published(bus.TopicProspectingConsensus), 1)
}
