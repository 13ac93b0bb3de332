// Package nats connects replica States over NATS. Transport carries
// snapshots over core NATS subjects; Store keeps durable records in a
// JetStream key/value bucket and follows them with the native Watch API.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/replica"
)

// Transport implements replica.Transport on a NATS connection. Replica
// subjects map one to one onto NATS subjects, including the "*" wildcard.
type Transport struct {
	nc *nats.Conn
}

// NewTransport creates a Transport on an established connection. The
// caller keeps ownership of nc.
func NewTransport(nc *nats.Conn) *Transport {
	return &Transport{nc: nc}
}

// Publish implements replica.Transport.
func (t *Transport) Publish(_ context.Context, subject string, data []byte) error {
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Request implements replica.Transport. Subscribers that do not answer are
// indistinguishable from slow ones, so the request waits for ctx unless the
// server reports there are no subscribers at all.
func (t *Transport) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := t.nc.RequestWithContext(ctx, subject, data)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return nil, replica.ErrNoResponders
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe implements replica.Transport.
func (t *Transport) Subscribe(subject string, handler replica.MessageHandler) (replica.Subscription, error) {
	sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, ok := handler(context.Background(), msg.Data)
		if !ok || msg.Reply == "" {
			return
		}
		_ = msg.Respond(reply)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Store implements replica.Store on a JetStream key/value bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore creates a Store on kv.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nats kv get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Set implements replica.Store.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("nats kv put %s: %w", key, err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the key exists.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop() //nolint:errcheck // best effort on shutdown

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}
				// Skip delete operations
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					continue
				}

				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ensure the adapters implement the replica interfaces.
var (
	_ replica.Transport = (*Transport)(nil)
	_ replica.Store     = (*Store)(nil)
)
