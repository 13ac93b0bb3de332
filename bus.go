package replica

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is an in-process Transport. Every delivery receives its own copy of
// the message bytes, so contexts attached to the same Bus never share memory.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*busSubscription
	next uint64
	drop func(subject string) bool

	sync     bool
	messages atomic.Int64
}

// NewBus creates a Bus that runs handlers on their own goroutines, like a
// networked transport would.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*busSubscription)}
}

// NewSyncBus creates a Bus that runs handlers on the caller's goroutine.
// Use for deterministic tests.
func NewSyncBus() *Bus {
	b := NewBus()
	b.sync = true
	return b
}

// Drop installs a predicate that silently discards messages for matching
// subjects, simulating undeliverable traffic. Pass nil to restore delivery.
func (b *Bus) Drop(fn func(subject string) bool) {
	b.mu.Lock()
	b.drop = fn
	b.mu.Unlock()
}

// Messages returns the number of messages published or requested so far.
func (b *Bus) Messages() int64 {
	return b.messages.Load()
}

// Publish implements Transport.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	b.messages.Add(1)
	for _, h := range b.match(subject) {
		msg := append([]byte(nil), data...)
		if b.sync {
			h(ctx, msg)
			continue
		}
		go h(context.WithoutCancel(ctx), msg)
	}
	return nil
}

// Request implements Transport.
func (b *Bus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	b.messages.Add(1)
	handlers := b.match(subject)
	if len(handlers) == 0 {
		return nil, ErrNoResponders
	}

	if b.sync {
		for _, h := range handlers {
			if reply, ok := h(ctx, append([]byte(nil), data...)); ok {
				return reply, nil
			}
		}
		return nil, ErrNoResponders
	}

	type result struct {
		reply []byte
		ok    bool
	}
	results := make(chan result, len(handlers))
	for _, h := range handlers {
		msg := append([]byte(nil), data...)
		go func(h MessageHandler) {
			reply, ok := h(context.WithoutCancel(ctx), msg)
			results <- result{reply: reply, ok: ok}
		}(h)
	}

	for range handlers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.ok {
				return r.reply, nil
			}
		}
	}
	return nil, ErrNoResponders
}

// Subscribe implements Transport.
func (b *Bus) Subscribe(subject string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	s := &busSubscription{
		bus:     b,
		id:      b.next,
		pattern: strings.Split(subject, "."),
		handler: handler,
	}
	b.subs[s.id] = s
	return s, nil
}

// match returns the handlers subscribed to subject in subscription order.
func (b *Bus) match(subject string) []MessageHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.drop != nil && b.drop(subject) {
		return nil
	}

	tokens := strings.Split(subject, ".")
	var matched []*busSubscription
	for _, s := range b.subs {
		if s.matches(tokens) {
			matched = append(matched, s)
		}
	}
	slices.SortFunc(matched, func(a, b *busSubscription) int {
		return cmp.Compare(a.id, b.id)
	})

	out := make([]MessageHandler, len(matched))
	for i, s := range matched {
		out[i] = s.handler
	}
	return out
}

type busSubscription struct {
	bus     *Bus
	id      uint64
	pattern []string
	handler MessageHandler
}

func (s *busSubscription) matches(tokens []string) bool {
	if len(tokens) != len(s.pattern) {
		return false
	}
	for i, p := range s.pattern {
		if p != "*" && p != tokens[i] {
			return false
		}
	}
	return true
}

// Unsubscribe implements Subscription. It is safe to call more than once.
func (s *busSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

// Ensure Bus implements Transport.
var _ Transport = (*Bus)(nil)
