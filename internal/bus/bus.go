// Package bus provides the broadcast message fabric that connects agents.
// Topics are opaque strings; delivery is best-effort, at-most-once, FIFO per
// (topic, subscriber) pair.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Subscribe after the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// Message is the envelope carried on every topic.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode payload on %q: %w", m.Topic, err)
	}
	return nil
}

// NewMessage builds an envelope around an arbitrary payload.
func NewMessage(source, topic string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %q: %w", topic, err)
	}
	return &Message{
		ID:        uuid.New(),
		Topic:     topic,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Handler receives messages delivered on a subscription. Handlers must treat
// the message as read-only; the same bytes may back multiple subscribers.
type Handler func(msg *Message)

// Subscription is an active topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Bus is the topic-addressed broadcast fabric. Publish never blocks on slow
// subscribers and never reports per-subscriber delivery failures.
type Bus interface {
	Publish(source, topic string, payload any) error
	Subscribe(subscriber, topic string, handler Handler) (Subscription, error)
	Close() error
}

// Config configures the NATS-backed bus.
type Config struct {
	URL            string
	Name           string
	Prefix         string        // Subject prefix for namespacing (default "mycelium.")
	InitialBackoff time.Duration // First reconnect delay (default 1s)
	MaxBackoff     time.Duration // Reconnect delay cap (default 60s)
	PingInterval   time.Duration // Connection health probe (default 30s)
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "mycelium",
		Prefix:         "mycelium.",
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// NATSBus implements Bus on a NATS connection. Each subscription gets its own
// delivery goroutine inside the client, so a slow handler on one topic cannot
// starve another.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	closed atomic.Bool
}

// Connect establishes the broker connection. Reconnects are transparent with
// exponential backoff; subscriptions are re-armed after reconnect, messages
// published during an outage are lost.
func Connect(cfg Config) (*NATSBus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "mycelium."
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.PingInterval(cfg.PingInterval),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			d := cfg.InitialBackoff
			for i := 0; i < attempts && d < cfg.MaxBackoff; i++ {
				d *= 2
			}
			if d > cfg.MaxBackoff {
				d = cfg.MaxBackoff
			}
			return d
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	log.Info().
		Str("url", cfg.URL).
		Str("prefix", cfg.Prefix).
		Msg("Message bus connected")

	return &NATSBus{nc: nc, prefix: cfg.Prefix}, nil
}

// Publish broadcasts a payload to every current subscriber of topic.
// Publishing on a closed bus is a silent drop.
func (b *NATSBus) Publish(source, topic string, payload any) error {
	if b.closed.Load() {
		log.Debug().Str("topic", topic).Msg("Publish on closed bus dropped")
		return nil
	}

	msg, err := NewMessage(source, topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope for %q: %w", topic, err)
	}

	if err := b.nc.Publish(b.prefix+topic, data); err != nil {
		return fmt.Errorf("publish on %q: %w", topic, err)
	}

	log.Debug().
		Str("topic", topic).
		Str("source", source).
		Str("message_id", msg.ID.String()).
		Msg("Published message")

	return nil
}

// Subscribe registers handler for subsequent messages on topic. Malformed
// payloads are logged and dropped; the subscription continues.
func (b *NATSBus) Subscribe(subscriber, topic string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.nc.Subscribe(b.prefix+topic, func(natsMsg *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed message")
			return
		}
		handler(&msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	log.Info().
		Str("subscriber", subscriber).
		Str("topic", topic).
		Msg("Subscribed")

	return &natsSubscription{sub: sub, topic: topic, subscriber: subscriber}, nil
}

// Stats reports connection-level counters for monitoring.
func (b *NATSBus) Stats() map[string]any {
	stats := make(map[string]any)
	if b.nc != nil {
		stats["connected"] = b.nc.IsConnected()
		stats["status"] = b.nc.Status().String()
		stats["in_msgs"] = b.nc.Stats().InMsgs
		stats["out_msgs"] = b.nc.Stats().OutMsgs
		stats["reconnects"] = b.nc.Stats().Reconnects
	}
	return stats
}

// Close drains and closes the broker connection. Subsequent publishes are
// dropped, subsequent subscribes fail with ErrClosed.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
		log.Info().Msg("Message bus closed")
	}
	return nil
}

type natsSubscription struct {
	sub        *nats.Subscription
	topic      string
	subscriber string
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe from %q: %w", s.topic, err)
	}
	log.Debug().
		Str("subscriber", s.subscriber).
		Str("topic", s.topic).
		Msg("Unsubscribed")
	return nil
}

func (s *natsSubscription) Topic() string { return s.topic }
