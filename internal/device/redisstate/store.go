// Package redisstate implements device.Transport on top of Redis.
//
// Device state is mirrored by an external bridge into one hash per entity
// (<prefix>entity:<entity_id>), each field holding a JSON encoded attribute
// value. Commands are published as JSON on <prefix>commands for the bridge to
// execute.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"mediaremote/internal/device"
)

// Command is the payload published for every service call.
type Command struct {
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// Store implements device.Transport using Redis.
type Store struct {
	client *backend.Client
	prefix string
	now    func() time.Time
}

var _ device.Transport = (*Store)(nil)

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis-backed transport.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a transport from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "mediaremote:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entityKey(entityID string) string {
	return s.prefix + "entity:" + entityID
}

// CommandChannel is the pub/sub channel commands are published on.
func (s *Store) CommandChannel() string {
	return s.prefix + "commands"
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Attribute returns one attribute of entityID.
func (s *Store) Attribute(ctx context.Context, entityID, name string) (any, error) {
	raw, err := s.client.HGet(ctx, s.entityKey(entityID), name).Result()
	if errors.Is(err, backend.Nil) {
		return nil, device.Unavailable(entityID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode attribute %s: %w", name, err)
	}
	if v == nil {
		return nil, device.Unavailable(entityID, name)
	}
	return v, nil
}

// Attributes returns every attribute of entityID. An entity without a hash
// is unavailable.
func (s *Store) Attributes(ctx context.Context, entityID string) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, s.entityKey(entityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, device.Unavailable(entityID, "")
	}

	attrs := make(map[string]any, len(fields))
	for name, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", name, err)
		}
		attrs[name] = v
	}
	return attrs, nil
}

// SetAttributes writes attributes of entityID (used by bridges and tests).
func (s *Store) SetAttributes(ctx context.Context, entityID string, attrs map[string]any) error {
	values := make(map[string]any, len(attrs))
	for name, v := range attrs {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode attribute %s: %w", name, err)
		}
		values[name] = string(b)
	}
	if err := s.client.HSet(ctx, s.entityKey(entityID), values).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// CallService publishes a Command for entityID.
func (s *Store) CallService(ctx context.Context, service, entityID string, data map[string]any) error {
	if _, _, err := device.SplitService(service); err != nil {
		return err
	}
	payload, err := json.Marshal(Command{
		Service:  service,
		EntityID: entityID,
		Data:     data,
		At:       s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := s.client.Publish(ctx, s.CommandChannel(), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe returns a subscription to the command channel.
func (s *Store) Subscribe(ctx context.Context) *backend.PubSub {
	return s.client.Subscribe(ctx, s.CommandChannel())
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
