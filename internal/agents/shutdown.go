package agents

import (
	"context"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindShutdown is the agent kind for the shutdown coordinator.
const KindShutdown = "shutdown_coordinator"

// ShutdownCoordinator listens for the emergency-stop command and runs the
// orderly teardown: halt trading, flush high-value patterns, close durable
// resources, stop the scheduler.
type ShutdownCoordinator struct {
	Base

	flush   func(ctx context.Context) error
	closers []func() error
	stop    func()
	done    bool
}

// ShutdownConfig wires the teardown steps. Any field may be nil.
type ShutdownConfig struct {
	Flush   func(ctx context.Context) error // archiver flush
	Closers []func() error                  // durable-storage handles
	Stop    func()                          // scheduler stop
}

// NewShutdownCoordinator creates the coordinator and subscribes it to
// system-control.
func NewShutdownCoordinator(cfg ShutdownConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*ShutdownCoordinator, error) {
	c := &ShutdownCoordinator{
		Base:    NewBase(KindShutdown, b, st, conn),
		flush:   cfg.Flush,
		closers: cfg.Closers,
		stop:    cfg.Stop,
	}

	if err := c.subscribe(bus.TopicSystemControl, func(msg *bus.Message) {
		var cmd bus.ControlCommand
		if err := msg.Decode(&cmd); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed control command")
			return
		}
		if cmd.Command == bus.CommandEmergencyShutdown {
			c.Shutdown(cmd.Reason)
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Step is a no-op; the coordinator reacts to control commands.
func (c *ShutdownCoordinator) Step(context.Context) error { return nil }

// Shutdown runs the teardown sequence once; repeat commands are ignored.
func (c *ShutdownCoordinator) Shutdown(reason string) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()

	c.log.Warn().Str("reason", reason).Msg("Emergency shutdown initiated")

	c.publish(bus.TopicSystemControl, &bus.ControlCommand{
		Command: bus.CommandHaltTrading,
		Reason:  "emergency shutdown",
		Source:  c.Name(),
	})

	if c.flush != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.flush(ctx); err != nil {
			c.log.Error().Err(err).Msg("Final archive flush failed")
		}
		cancel()
	}

	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.log.Error().Err(err).Msg("Resource close failed")
		}
	}

	if c.stop != nil {
		c.stop()
	}
	c.log.Info().Msg("Shutdown complete")
}
