// Package agents implements the agent population: data producers, signal
// producers, the collision synthesizer, and the supervisory agents. Agents
// interact only through the bus and the shared state store.
package agents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/state"
)

// Agent is the contract every population member implements. Step is invoked
// once per scheduler tick and must contain its own failures; the returned
// error is logged, never acted on.
type Agent interface {
	ID() uint64
	Name() string
	Kind() string
	Step(ctx context.Context) error
}

// Registry accepts newly built agents into the tick loop. Implemented by the
// scheduler; the builder only sees this narrow surface.
type Registry interface {
	Register(a Agent)
}

var idCounter atomic.Uint64

// nextID assigns process-unique, monotonically increasing agent IDs.
func nextID() uint64 {
	return idCounter.Add(1)
}

// Base carries the identity and injected handles common to all agents.
type Base struct {
	id   uint64
	name string
	kind string

	bus   bus.Bus
	state state.Store
	conn  exchange.Connector
	log   zerolog.Logger

	mu     sync.Mutex
	subs   []bus.Subscription
	halted bool
}

// NewBase constructs the shared agent core. The name is "{kind}_{id}".
func NewBase(kind string, b bus.Bus, st state.Store, conn exchange.Connector) Base {
	id := nextID()
	name := fmt.Sprintf("%s_%d", kind, id)
	return Base{
		id:    id,
		name:  name,
		kind:  kind,
		bus:   b,
		state: st,
		conn:  conn,
		log:   config.NewAgentLogger(name, kind),
	}
}

// ID returns the process-unique agent ID.
func (b *Base) ID() uint64 { return b.id }

// Name returns the "{kind}_{id}" agent name.
func (b *Base) Name() string { return b.name }

// Kind returns the agent kind.
func (b *Base) Kind() string { return b.kind }

// subscribe registers a bus handler and tracks the subscription for Close.
func (b *Base) subscribe(topic string, handler bus.Handler) error {
	sub, err := b.bus.Subscribe(b.name, topic, handler)
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// publish sends a payload on the bus, attributed to this agent.
func (b *Base) publish(topic string, payload any) {
	if err := b.bus.Publish(b.name, topic, payload); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}

// subscribeControl wires the universal soft-cancel: a HALT_TRADING command
// sets the halted flag, which idea-producing agents consult before emitting.
func (b *Base) subscribeControl() error {
	return b.subscribe(bus.TopicSystemControl, func(msg *bus.Message) {
		var cmd bus.ControlCommand
		if err := msg.Decode(&cmd); err != nil {
			b.log.Warn().Err(err).Msg("Dropping malformed control command")
			return
		}
		if cmd.Command == bus.CommandHaltTrading {
			b.mu.Lock()
			b.halted = true
			b.mu.Unlock()
			b.log.Info().Str("reason", cmd.Reason).Msg("Trading halted")
		}
	})
}

// Halted reports whether a HALT_TRADING command has been received.
func (b *Base) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// Close drops all bus subscriptions.
func (b *Base) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Str("topic", s.Topic()).Msg("Unsubscribe failed")
		}
	}
}
