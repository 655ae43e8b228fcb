// Package agenttest provides in-memory test doubles for agent tests: a
// synchronous bus and a miniredis-backed state store.
package agenttest

import (
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/state"
)

// FakeBus is an in-process bus with synchronous delivery. Publishes are
// recorded so tests can assert on emitted traffic.
type FakeBus struct {
	mu        sync.Mutex
	handlers  map[string][]bus.Handler
	published []bus.Message
	closed    bool
}

// NewFakeBus creates an empty fake bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{handlers: make(map[string][]bus.Handler)}
}

// Publish records the message and delivers it synchronously to every current
// subscriber of the topic.
func (f *FakeBus) Publish(source, topic string, payload any) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	msg, err := bus.NewMessage(source, topic, payload)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, *msg)
	handlers := append([]bus.Handler(nil), f.handlers[topic]...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (f *FakeBus) Subscribe(subscriber, topic string, handler bus.Handler) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, bus.ErrClosed
	}
	f.handlers[topic] = append(f.handlers[topic], handler)
	return &fakeSubscription{bus: f, topic: topic, handler: handler}, nil
}

// Close marks the bus closed; further publishes are dropped.
func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Published returns all recorded messages on the topic.
func (f *FakeBus) Published(topic string) []bus.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bus.Message
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// PublishedCount returns the number of recorded messages on the topic.
func (f *FakeBus) PublishedCount(topic string) int {
	return len(f.Published(topic))
}

// Reset clears the recorded publishes, keeping subscriptions.
func (f *FakeBus) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
}

type fakeSubscription struct {
	bus     *FakeBus
	topic   string
	handler bus.Handler
	once    sync.Once
}

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		// Function values cannot be compared; LIFO removal is close enough
		// for tests, which unsubscribe in reverse construction order.
		handlers := s.bus.handlers[s.topic]
		if len(handlers) > 0 {
			s.bus.handlers[s.topic] = handlers[:len(handlers)-1]
		}
	})
	return nil
}

func (s *fakeSubscription) Topic() string { return s.topic }

// NewState spins up a miniredis instance and returns a store backed by it.
func NewState(t *testing.T) state.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := state.NewWithClient(client, "test:")
	require.NotNil(t, st)
	return st
}
