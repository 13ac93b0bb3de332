package replica

import (
	"slices"
	"sync"
)

// AllKeys is the key reported for a full-state replacement.
const AllKeys = "*"

// Change describes one observable mutation of a State.
type Change struct {
	// Key is the mutated key, or AllKeys for a full replacement.
	Key string

	// Value is a copy of the new value, or of the whole snapshot for AllKeys.
	Value any

	// Source is the origin of the mutation.
	Source Source
}

// dispatcher delivers changes to listeners in emission order. A listener
// that mutates the State re-enters emit; the nested change is queued and
// delivered after the current one instead of deadlocking.
type dispatcher struct {
	mu        sync.Mutex
	listeners map[uint64]func(Change)
	next      uint64
	queue     []Change
	draining  bool
	closed    bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{listeners: make(map[uint64]func(Change))}
}

func (d *dispatcher) subscribe(fn func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	id := d.next
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *dispatcher) emit(c Change) {
	d.enqueue(c)
	d.drain()
}

// enqueue fixes the delivery position of c without delivering it. Callers
// enqueue while holding the lock that ordered the mutation and drain after
// releasing it, so delivery order matches mutation order across goroutines.
func (d *dispatcher) enqueue(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, c)
}

// drain delivers queued changes. If another call is already draining it
// returns at once; that call delivers what was queued.
func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true

	for len(d.queue) > 0 && !d.closed {
		next := d.queue[0]
		d.queue = d.queue[1:]
		listeners := d.ordered()
		d.mu.Unlock()

		for _, fn := range listeners {
			fn(next)
		}

		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}

// ordered returns listeners in subscription order. Caller holds mu.
func (d *dispatcher) ordered() []func(Change) {
	ids := make([]uint64, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]func(Change), len(ids))
	for i, id := range ids {
		out[i] = d.listeners[id]
	}
	return out
}

// close drops queued changes and rejects further emission.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.queue = nil
	clear(d.listeners)
	d.mu.Unlock()
}
