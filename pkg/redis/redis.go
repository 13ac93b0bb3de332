// Package redis provides a replica.Store backed by a Redis key, using
// keyspace notifications for change detection.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/replica"
)

// Store keeps durable records in Redis string keys. Requires Redis to have
// keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Store struct {
	client *redis.Client
	prefix string
	db     int
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key, e.g. "app:" stores "replica-sync" as
// "app:replica-sync".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store using client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Options().DB,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set implements replica.Store.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the key exists.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	full := s.prefix + key
	channel := fmt.Sprintf("__keyspace@%d__:%s", s.db, full)
	pubsub := s.client.Subscribe(ctx, channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := s.client.Get(ctx, full).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return
		}
		if err == nil {
			select {
			case out <- val:
			case <-ctx.Done():
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				switch msg.Payload {
				case "set", "setex", "psetex", "setnx", "mset", "setrange", "append":
					val, err := s.client.Get(ctx, full).Bytes()
					if err != nil {
						continue
					}
					select {
					case out <- val:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
