package replica

import "context"

// DefaultStorageKey is the single key under which the durable subset is stored.
const DefaultStorageKey = "replica-sync"

// Store is the durable key-value store shared by contexts of one group.
// A State uses exactly one key for its whole durable subset.
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the record stored under key.
	Set(ctx context.Context, key string, data []byte) error

	// Watch returns a channel that emits the record whenever it changes,
	// including changes made through this Store. Implementations may emit
	// the current value first. The channel is closed when ctx is canceled.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
}
