// Package consul provides a replica.Store backed by Consul KV using
// blocking queries.
package consul

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/replica"
)

// DefaultPrefix is prepended to every record key.
const DefaultPrefix = "replica/"

// retryDelay is the pause after a failed blocking query.
const retryDelay = time.Second

// Store keeps each record under prefix+key.
type Store struct {
	kv     *api.KV
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on client.
func New(client *api.Client, opts ...Option) *Store {
	s := &Store{
		kv:     client.KV(),
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := s.kv.Get(s.prefix+key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul get %s: %w", s.prefix+key, err)
	}
	if pair == nil {
		return nil, replica.ErrNotFound
	}
	return pair.Value, nil
}

// Set implements replica.Store.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	pair := &api.KVPair{Key: s.prefix + key, Value: data}
	if _, err := s.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("consul put %s: %w", s.prefix+key, err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the key exists.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	name := s.prefix + key

	// Get initial value and index
	pair, meta, err := s.kv.Get(name, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex

		if pair != nil {
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}

		for {
			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := s.kv.Get(name, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			// An index that moved backwards means the server state was reset.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			if pair == nil {
				continue
			}

			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
