package agents

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/metrics"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindBuilder is the agent kind for the team deployer.
const KindBuilder = "builder"

// TeamTemplate describes the agent mix deployed for one asset.
type TeamTemplate struct {
	TechnicalAgents int      `yaml:"technical_agents"`
	Learners        int      `yaml:"learners"`
	LearnerFocus    []string `yaml:"learner_focus,omitempty"`
}

// DefaultTeamTemplate is the standard deployment: one data producer (always
// implied), three TA agents, fifteen pattern learners.
func DefaultTeamTemplate() TeamTemplate {
	return TeamTemplate{TechnicalAgents: 3, Learners: 15}
}

// ParseTeamTemplate decodes a YAML team template, falling back to defaults
// for omitted counts.
func ParseTeamTemplate(data []byte) (TeamTemplate, error) {
	tmpl := DefaultTeamTemplate()
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return TeamTemplate{}, fmt.Errorf("parsing team template: %w", err)
	}
	if tmpl.TechnicalAgents <= 0 || tmpl.Learners <= 0 {
		return TeamTemplate{}, fmt.Errorf("team template counts must be positive")
	}
	return tmpl, nil
}

// TeamFactory constructs the agent team for a newly deployed pair. Injected
// by the composition root so the builder stays decoupled from constructor
// wiring.
type TeamFactory func(pair string, tmpl TeamTemplate) ([]Agent, error)

// TeamRegistry is the scheduler surface the builder needs.
type TeamRegistry interface {
	Register(a Agent)
	Deregister(name string) bool
}

// deployment tracks one active pair's team.
type deployment struct {
	pair       string
	agentNames []string
	deployedAt time.Time
}

// Builder deploys agent teams for pairs that reached prospecting consensus,
// subject to capacity and cooldown gates, and retires them on hibernation.
type Builder struct {
	Base

	registry TeamRegistry
	factory  TeamFactory
	template TeamTemplate

	maxActiveAssets    int
	deploymentCooldown time.Duration

	active       map[string]*deployment
	lastDeployed map[string]time.Time // survives hibernation, for cooldown
	rejected     int

	buildRequests   map[string]time.Time // tool -> last seen, 60s TTL dedupe
	buildRequestTTL time.Duration
}

// BuilderConfig configures the team deployer.
type BuilderConfig struct {
	Registry           TeamRegistry
	Factory            TeamFactory
	Template           TeamTemplate
	MaxActiveAssets    int           // default 15
	DeploymentCooldown time.Duration // default 1h
}

// NewBuilder creates the builder and subscribes it to prospecting-consensus
// and system-build-request.
func NewBuilder(cfg BuilderConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*Builder, error) {
	if cfg.MaxActiveAssets <= 0 {
		cfg.MaxActiveAssets = 15
	}
	if cfg.DeploymentCooldown <= 0 {
		cfg.DeploymentCooldown = time.Hour
	}
	if cfg.Template.TechnicalAgents == 0 && cfg.Template.Learners == 0 {
		cfg.Template = DefaultTeamTemplate()
	}

	bd := &Builder{
		Base:               NewBase(KindBuilder, b, st, conn),
		registry:           cfg.Registry,
		factory:            cfg.Factory,
		template:           cfg.Template,
		maxActiveAssets:    cfg.MaxActiveAssets,
		deploymentCooldown: cfg.DeploymentCooldown,
		active:             make(map[string]*deployment),
		lastDeployed:       make(map[string]time.Time),
		buildRequests:      make(map[string]time.Time),
		buildRequestTTL:    60 * time.Second,
	}

	if err := bd.subscribe(bus.TopicProspectingConsensus, func(msg *bus.Message) {
		var cons model.Consensus
		if err := msg.Decode(&cons); err != nil {
			bd.log.Warn().Err(err).Msg("Dropping malformed consensus")
			return
		}
		bd.HandleConsensus(&cons)
	}); err != nil {
		return nil, err
	}
	if err := bd.subscribe(bus.TopicBuildRequest, func(msg *bus.Message) {
		var req model.BuildRequest
		if err := msg.Decode(&req); err != nil {
			bd.log.Warn().Err(err).Msg("Dropping malformed build request")
			return
		}
		bd.HandleBuildRequest(&req)
	}); err != nil {
		return nil, err
	}
	return bd, nil
}

// Step is a no-op; the builder reacts to consensus messages.
func (bd *Builder) Step(context.Context) error { return nil }

// IsActive implements ActiveAssets.
func (bd *Builder) IsActive(pair string) bool {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	_, ok := bd.active[pair]
	return ok
}

// ActiveCount returns the number of deployed pairs.
func (bd *Builder) ActiveCount() int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return len(bd.active)
}

// RejectedDeployments returns the count of consensus messages refused by the
// capacity, cooldown, or duplicate gates.
func (bd *Builder) RejectedDeployments() int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.rejected
}

// MarkActive seeds the registry with an already-running pair, used for the
// initial teams deployed at startup.
func (bd *Builder) MarkActive(pair string, agentNames []string) {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	now := time.Now()
	bd.active[pair] = &deployment{pair: pair, agentNames: agentNames, deployedAt: now}
	bd.lastDeployed[pair] = now
}

// HandleConsensus runs the deployment gates and, if all pass, builds and
// registers the pair's team.
func (bd *Builder) HandleConsensus(cons *model.Consensus) {
	bd.mu.Lock()
	reason := bd.gateLocked(cons.Pair)
	if reason != "" {
		bd.rejected++
		bd.mu.Unlock()
		metrics.RejectedDeployments.Inc()
		bd.log.Info().
			Str("pair", cons.Pair).
			Str("reason", reason).
			Msg("Deployment rejected")
		return
	}
	// Reserve the pair before releasing the lock so concurrent consensus
	// messages cannot double-deploy.
	now := time.Now()
	bd.active[cons.Pair] = &deployment{pair: cons.Pair, deployedAt: now}
	bd.lastDeployed[cons.Pair] = now
	bd.mu.Unlock()

	team, err := bd.factory(cons.Pair, bd.template)
	if err != nil {
		bd.mu.Lock()
		delete(bd.active, cons.Pair)
		bd.rejected++
		bd.mu.Unlock()
		metrics.RejectedDeployments.Inc()
		bd.log.Error().Err(err).Str("pair", cons.Pair).Msg("Team construction failed")
		return
	}

	names := make([]string, 0, len(team))
	for _, a := range team {
		bd.registry.Register(a)
		names = append(names, a.Name())
	}

	bd.mu.Lock()
	if dep, ok := bd.active[cons.Pair]; ok {
		dep.agentNames = names
	}
	bd.mu.Unlock()

	metrics.Deployments.Inc()
	bd.log.Info().
		Str("pair", cons.Pair).
		Str("team", cons.Team).
		Int("agents", len(team)).
		Msg("Team deployed")
}

// gateLocked returns a rejection reason, or empty when deployment may
// proceed. Caller holds the mutex.
func (bd *Builder) gateLocked(pair string) string {
	if _, ok := bd.active[pair]; ok {
		return "already active"
	}
	if len(bd.active) >= bd.maxActiveAssets {
		return "at capacity"
	}
	if last, ok := bd.lastDeployed[pair]; ok && time.Since(last) < bd.deploymentCooldown {
		return "deployment cooldown"
	}
	return ""
}

// Hibernate implements Hibernator: deregister the pair's team and free its
// capacity slot. The cooldown record is kept so the pair cannot bounce
// straight back in.
func (bd *Builder) Hibernate(pair string) {
	bd.mu.Lock()
	dep, ok := bd.active[pair]
	if ok {
		delete(bd.active, pair)
	}
	bd.mu.Unlock()

	if !ok {
		return
	}
	for _, name := range dep.agentNames {
		bd.registry.Deregister(name)
	}
	bd.log.Info().
		Str("pair", pair).
		Int("agents", len(dep.agentNames)).
		Msg("Team hibernated")
}

// HandleBuildRequest logs a missing-tool request, deduplicated within the
// TTL. Code generation itself is out of scope; the log is the artifact.
func (bd *Builder) HandleBuildRequest(req *model.BuildRequest) {
	bd.mu.Lock()
	last, seen := bd.buildRequests[req.ToolNeeded]
	now := time.Now()
	dup := seen && now.Sub(last) < bd.buildRequestTTL
	if !dup {
		bd.buildRequests[req.ToolNeeded] = now
	}
	bd.mu.Unlock()

	if dup {
		return
	}
	bd.log.Info().
		Str("tool", req.ToolNeeded).
		Str("reason", req.Reason).
		Str("source", req.Source).
		Msg("Build request recorded")
}
