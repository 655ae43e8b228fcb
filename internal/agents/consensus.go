package agents

import (
	"context"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindConsensus is the agent kind for the proposal aggregator.
const KindConsensus = "consensus"

const (
	consensusQuorum        = 2
	consensusMinConfidence = 0.70
)

// vote is one team member's proposal for a pair.
type vote struct {
	agent string
	at    time.Time
}

// ConsensusAggregator collects prospecting proposals per team and publishes a
// consensus when two of a team's three members back the same pair at high
// confidence within the vote window.
type ConsensusAggregator struct {
	Base

	window time.Duration
	// votes[team][pair] -> votes from distinct agents
	votes map[Team]map[string][]vote
}

// ConsensusConfig configures the aggregator.
type ConsensusConfig struct {
	VoteWindow time.Duration // default 5m
}

// NewConsensusAggregator creates the aggregator and subscribes it to every
// team's proposal channel.
func NewConsensusAggregator(cfg ConsensusConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*ConsensusAggregator, error) {
	if cfg.VoteWindow <= 0 {
		cfg.VoteWindow = 5 * time.Minute
	}

	c := &ConsensusAggregator{
		Base:   NewBase(KindConsensus, b, st, conn),
		window: cfg.VoteWindow,
		votes:  make(map[Team]map[string][]vote),
	}

	for _, team := range Teams {
		if err := c.subscribe(bus.ProspectingProposalsTopic(string(team)), func(msg *bus.Message) {
			var prop model.Proposal
			if err := msg.Decode(&prop); err != nil {
				c.log.Warn().Err(err).Msg("Dropping malformed proposal")
				return
			}
			c.HandleProposal(&prop)
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Step is a no-op; the aggregator reacts to proposals.
func (c *ConsensusAggregator) Step(context.Context) error { return nil }

// HandleProposal records one vote and publishes a consensus once the quorum
// is met within the window. Votes are cleared after a consensus fires so the
// same agreement cannot fire twice.
func (c *ConsensusAggregator) HandleProposal(prop *model.Proposal) {
	if prop.Confidence < consensusMinConfidence {
		return
	}

	team := Team(prop.Team)

	c.mu.Lock()
	byPair, ok := c.votes[team]
	if !ok {
		byPair = make(map[string][]vote)
		c.votes[team] = byPair
	}

	fresh := byPair[prop.Pair][:0]
	for _, v := range byPair[prop.Pair] {
		if prop.Timestamp.Sub(v.at) <= c.window && v.agent != prop.Agent {
			fresh = append(fresh, v)
		}
	}
	fresh = append(fresh, vote{agent: prop.Agent, at: prop.Timestamp})
	byPair[prop.Pair] = fresh

	quorum := len(fresh) >= consensusQuorum
	if quorum {
		delete(byPair, prop.Pair)
	}
	c.mu.Unlock()

	if !quorum {
		return
	}

	c.log.Info().
		Str("team", prop.Team).
		Str("pair", prop.Pair).
		Msg("Prospecting consensus reached")
	c.publish(bus.TopicProspectingConsensus, &model.Consensus{
		Pair:      prop.Pair,
		Team:      prop.Team,
		Votes:     consensusQuorum,
		Timestamp: prop.Timestamp,
	})
}
