package replica

import (
	"sync"
	"time"
)

// Failure records one best-effort operation that did not complete.
type Failure struct {
	Op  string
	Err error
	At  time.Time
}

// Error implements error.
func (f Failure) Error() string {
	return f.Op + ": " + f.Err.Error()
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}

// failureRing is a thread-safe ring buffer of recent failures.
// A nil ring is valid and retains nothing.
type failureRing struct {
	mu      sync.RWMutex
	entries []Failure
	head    int
	count   int
}

// newFailureRing returns a ring of the given capacity, or nil when size <= 0.
func newFailureRing(size int) *failureRing {
	if size <= 0 {
		return nil
	}
	return &failureRing{entries: make([]Failure, size)}
}

func (r *failureRing) push(f Failure) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = f
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

func (r *failureRing) reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.entries)
	r.head = 0
	r.count = 0
}

// all returns the retained failures as errors, oldest first.
func (r *failureRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	size := len(r.entries)
	out := make([]error, r.count)
	start := (r.head - r.count + size) % size
	for i := range r.count {
		out[i] = r.entries[(start+i)%size]
	}
	return out
}
