// Package state provides the process-wide shared belief store. Values are
// opaque JSON blobs with last-writer-wins semantics; readers may observe stale
// values and no read-modify-write atomicity is offered.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("state: key not found")

// PolicyKeyPrefix namespaces the pattern-learner belief snapshots.
const PolicyKeyPrefix = "policy:"

// Store is the flat key->blob map shared by all agents.
type Store interface {
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any) error
	SetTTL(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config configures the Redis-backed store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix for namespacing (default "mycelium:")
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: "mycelium:",
	}
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Connect opens and verifies the Redis connection.
func Connect(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = "mycelium:"
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("prefix", cfg.Prefix).
		Msg("Shared state store connected")

	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mycelium:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get reads and decodes the value at key into v.
func (s *RedisStore) Get(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Set writes the value at key, overwriting any previous value.
func (s *RedisStore) Set(ctx context.Context, key string, v any) error {
	return s.SetTTL(ctx, key, v, 0)
}

// SetTTL writes the value at key with an expiry. A zero ttl means no expiry.
func (s *RedisStore) SetTTL(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value at key. Deleting a missing key is a no-op.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, stripped of the store
// namespace. Uses SCAN so it never blocks the server.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.prefix + prefix + "*"
	keys := make([]string, 0)

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return keys, nil
}

// Close closes the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
