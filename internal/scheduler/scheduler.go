// Package scheduler drives the agent population. One logical tick loop steps
// every registered agent sequentially in random order; bus callbacks run
// concurrently with it on their own delivery goroutines.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/agents"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/metrics"
)

// Hook is invoked by the scheduler at tick boundaries.
type Hook func(ctx context.Context, tick uint64)

// Scheduler owns the agent registry and the shutdown signal.
type Scheduler struct {
	mu      sync.RWMutex
	agents  []agents.Agent
	running atomic.Bool
	ticks   atomic.Uint64

	archiveInterval uint64
	archiveHook     Hook
	preTickHook     Hook

	rng *rand.Rand
	log zerolog.Logger
}

// Config configures the scheduler.
type Config struct {
	ArchiveInterval uint64 // ticks between archive hook invocations
	ArchiveHook     Hook
	PreTickHook     Hook // optional, e.g. policy-contagion heuristic
	Seed            int64
}

// New creates a scheduler. It starts in the running state.
func New(cfg Config) *Scheduler {
	if cfg.ArchiveInterval == 0 {
		cfg.ArchiveInterval = 300
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Scheduler{
		archiveInterval: cfg.ArchiveInterval,
		archiveHook:     cfg.ArchiveHook,
		preTickHook:     cfg.PreTickHook,
		rng:             rand.New(rand.NewSource(seed)),
		log:             config.NewLogger("scheduler"),
	}
	s.running.Store(true)
	return s
}

// Register adds an agent to the tick loop. Safe to call from bus callbacks;
// the builder registers new teams at runtime.
func (s *Scheduler) Register(a agents.Agent) {
	s.mu.Lock()
	s.agents = append(s.agents, a)
	s.mu.Unlock()

	s.log.Info().
		Str("agent", a.Name()).
		Str("kind", a.Kind()).
		Uint64("id", a.ID()).
		Msg("Agent registered")
}

// Deregister removes an agent by name. Used by the hibernation path.
func (s *Scheduler) Deregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.agents {
		if a.Name() == name {
			s.agents = append(s.agents[:i], s.agents[i+1:]...)
			s.log.Info().Str("agent", name).Msg("Agent deregistered")
			return true
		}
	}
	return false
}

// AgentCount returns the number of registered agents.
func (s *Scheduler) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Running reports whether the scheduler is still ticking.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Stop halts the tick loop. One-way; used by the shutdown coordinator.
func (s *Scheduler) Stop() {
	if s.running.Swap(false) {
		s.log.Info().Uint64("ticks", s.ticks.Load()).Msg("Scheduler stopped")
	}
}

// Tick steps every registered agent once, in a freshly shuffled order so no
// agent gains a positional edge. A failing agent is logged and kept.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.Load() {
		return
	}

	if s.preTickHook != nil {
		s.preTickHook(ctx, s.ticks.Load())
	}

	s.mu.RLock()
	batch := make([]agents.Agent, len(s.agents))
	copy(batch, s.agents)
	s.mu.RUnlock()

	s.mu.Lock()
	s.rng.Shuffle(len(batch), func(i, j int) {
		batch[i], batch[j] = batch[j], batch[i]
	})
	s.mu.Unlock()

	for _, a := range batch {
		s.stepAgent(ctx, a)
	}

	tick := s.ticks.Add(1)
	metrics.TicksTotal.Inc()

	if s.archiveHook != nil && tick%s.archiveInterval == 0 {
		s.archiveHook(ctx, tick)
	}
}

// stepAgent contains panics and errors from a single agent step.
func (s *Scheduler) stepAgent(ctx context.Context, a agents.Agent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StepErrors.WithLabelValues(a.Kind()).Inc()
			s.log.Error().
				Str("agent", a.Name()).
				Interface("panic", r).
				Msg("Agent step panicked")
		}
	}()

	if err := a.Step(ctx); err != nil {
		metrics.StepErrors.WithLabelValues(a.Kind()).Inc()
		s.log.Error().Err(err).Str("agent", a.Name()).Msg("Agent step failed")
	}
}

// Run ticks at the given cadence until the context is cancelled or Stop is
// called. The clock source is the runtime's monotonic ticker.
func (s *Scheduler) Run(ctx context.Context, cadence time.Duration) error {
	if cadence <= 0 {
		return fmt.Errorf("scheduler cadence must be positive, got %v", cadence)
	}

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	s.log.Info().Dur("cadence", cadence).Msg("Scheduler running")
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-ticker.C:
			if !s.running.Load() {
				return nil
			}
			s.Tick(ctx)
		}
	}
}
