package agents

import (
	"context"
	"math"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindProspector is the agent kind for market explorers.
const KindProspector = "prospector"

// Team identifies a prospecting style. Each team fields three agents.
type Team string

const (
	TeamHFT      Team = "HFT"
	TeamDayTrade Team = "DayTrade"
	TeamSwing    Team = "Swing"
)

// Teams lists all prospecting teams.
var Teams = []Team{TeamHFT, TeamDayTrade, TeamSwing}

// moatWeights are the per-team weights applied to shared-state moat signals
// when computing the cross-moat score.
type moatWeights struct {
	code, corp, gov, log float64
}

var teamMoatWeights = map[Team]moatWeights{
	TeamHFT:      {code: 0.5, corp: 0.5},
	TeamDayTrade: {code: 0.7, corp: 0.7, gov: 0.3, log: 0.3},
	TeamSwing:    {code: 0.3, corp: 0.3, gov: 1.0, log: 1.0},
}

// ActiveAssets exposes the deployment registry to prospectors. Implemented by
// the builder.
type ActiveAssets interface {
	IsActive(pair string) bool
}

// Prospector scans the tradable universe every scan interval and proposes
// promising pairs to its team's proposal channel.
type Prospector struct {
	Base

	team         Team
	scanInterval uint64
	active       ActiveAssets

	tickCount uint64
	seen      map[string]bool
}

// ProspectorConfig configures one market explorer.
type ProspectorConfig struct {
	Team         Team
	ScanInterval uint64 // ticks between scans, default 60
	Active       ActiveAssets
}

// NewProspector creates a prospector for one team.
func NewProspector(cfg ProspectorConfig, b bus.Bus, st state.Store, conn exchange.Connector) *Prospector {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 60
	}
	return &Prospector{
		Base:         NewBase(KindProspector, b, st, conn),
		team:         cfg.Team,
		scanInterval: cfg.ScanInterval,
		active:       cfg.Active,
		seen:         make(map[string]bool),
	}
}

// Team returns the prospector's team.
func (p *Prospector) Team() Team { return p.team }

// Step counts ticks and runs a full scan once per interval.
func (p *Prospector) Step(ctx context.Context) error {
	p.tickCount++
	if p.tickCount%p.scanInterval != 0 {
		return nil
	}
	return p.Scan(ctx)
}

// Scan fetches the tradable universe, scores each candidate, and publishes
// proposals for pairs scoring at least 4 of 8.
func (p *Prospector) Scan(ctx context.Context) error {
	pairs, err := p.conn.TradablePairs(ctx)
	if err != nil {
		p.log.Debug().Err(err).Msg("Pair listing failed, skipping scan")
		return nil
	}

	moat := p.crossMoatScore(ctx)

	for _, info := range pairs {
		if info.Status != "online" || !exchange.IsUSDQuoted(info) {
			continue
		}
		if p.active != nil && p.active.IsActive(info.Pair) {
			continue
		}

		ticker, err := p.conn.Ticker(ctx, info.Pair)
		if err != nil {
			continue
		}

		score, breakdown := p.scorePair(info.Pair, ticker, moat)
		p.seen[info.Pair] = true
		if score < 4 {
			continue
		}

		p.publish(bus.ProspectingProposalsTopic(string(p.team)), &model.Proposal{
			Pair:       info.Pair,
			Team:       string(p.team),
			Agent:      p.Name(),
			Score:      score,
			Confidence: float64(score) / 8,
			Breakdown:  breakdown,
			Timestamp:  time.Now(),
		})
		p.log.Info().
			Str("pair", info.Pair).
			Int("score", score).
			Msg("Pair proposed")
	}
	return nil
}

// scorePair applies the six prospecting criteria, 0 to 8 points total.
func (p *Prospector) scorePair(pair string, t *exchange.Ticker, moatScore int) (int, map[string]int) {
	breakdown := make(map[string]int, 6)

	if t.Close > 0 && (t.High24h-t.Low24h)/t.Close > 0.02 {
		breakdown["volatility"] = 1
	}
	if t.Volume24h*t.Close > 10_000_000 {
		breakdown["volume"] = 1
	}
	if t.Bid > 0 && (t.Ask-t.Bid)/t.Bid < 0.005 {
		breakdown["liquidity"] = 1
	}
	if t.Open > 0 && math.Abs((t.Close-t.Open)/t.Open) > 0.15 {
		breakdown["momentum"] = 1
	}
	if !p.seen[pair] {
		breakdown["novelty"] = 1
	}
	breakdown["cross_moat"] = moatScore

	total := 0
	for _, v := range breakdown {
		total += v
	}
	return total, breakdown
}

// crossMoatScore reads the latest moat activity values from shared state and
// applies the team's weights: 2 points at weighted activity >= 1.5, 1 point
// at >= 0.5.
func (p *Prospector) crossMoatScore(ctx context.Context) int {
	w := teamMoatWeights[p.team]
	activity := w.code*p.moatValue(ctx, MoatCode) +
		w.corp*p.moatValue(ctx, MoatCorporation) +
		w.gov*p.moatValue(ctx, MoatGovernment) +
		w.log*p.moatValue(ctx, MoatLogistics)

	switch {
	case activity >= 1.5:
		return 2
	case activity >= 0.5:
		return 1
	default:
		return 0
	}
}

func (p *Prospector) moatValue(ctx context.Context, m Moat) float64 {
	var v float64
	if err := p.state.Get(ctx, moatStateKey(m), &v); err != nil {
		return 0
	}
	return v
}
