// Package etcd provides a replica.Store backed by etcd keys using the
// native Watch API.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/replica"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultPrefix is prepended to every record key.
const DefaultPrefix = "/replica/"

// Store keeps each record under prefix+key.
type Store struct {
	client *clientv3.Client
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
func New(client *clientv3.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", s.prefix+key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, replica.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Set implements replica.Store.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if _, err := s.client.Put(ctx, s.prefix+key, string(data)); err != nil {
		return fmt.Errorf("etcd put %s: %w", s.prefix+key, err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the key exists, then every later put starting from the revision read.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	name := s.prefix + key

	// Get initial value
	resp, err := s.client.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		// Emit initial value if key exists
		if len(resp.Kvs) > 0 {
			select {
			case out <- resp.Kvs[0].Value:
			case <-ctx.Done():
				return
			}
		}

		watchChan := s.client.Watch(ctx, name, clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					// Only emit on PUT events (not DELETE)
					if event.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case out <- event.Kv.Value:
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
