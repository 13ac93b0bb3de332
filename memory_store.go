package replica

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Watchers observe the latest value;
// rapid successive writes may be coalesced into one notification.
// Useful for testing and for contexts sharing one process.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	watchers map[string]map[*memoryWatch]struct{}
}

type memoryWatch struct {
	notify chan struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		watchers: make(map[string]map[*memoryWatch]struct{}),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = append([]byte(nil), data...)
	for w := range s.watchers[key] {
		select {
		case w.notify <- struct{}{}:
		default:
			// A notification is already pending; the watcher will read
			// the latest record when it runs.
		}
	}
	return nil
}

// Watch implements Store. Only changes after the call are emitted.
func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	w := &memoryWatch{notify: make(chan struct{}, 1)}

	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[*memoryWatch]struct{})
	}
	s.watchers[key][w] = struct{}{}
	s.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.watchers[key], w)
			s.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
				data, err := s.Get(ctx, key)
				if err != nil {
					continue
				}
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
