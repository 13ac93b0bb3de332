// Package testing provides test utilities and helpers for replica testing.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zoobzio/replica"
)

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForValue waits until key holds want in s or timeout occurs.
func WaitForValue(t *testing.T, s *replica.State, key string, want any, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		got, ok, err := s.Get(key)
		return err == nil && ok && cmp.Equal(got, want)
	})
}

// RequireStatus fails the test immediately if s is not in the expected status.
func RequireStatus(t *testing.T, s *replica.State, expected replica.Status) {
	t.Helper()
	if got := s.Status(); got != expected {
		t.Fatalf("expected status %s, got %s", expected, got)
	}
}

// RequireValue fails the test if key is absent from s or differs from want.
// Numbers read back as float64.
func RequireValue(t *testing.T, s *replica.State, key string, want any) {
	t.Helper()
	got, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !ok {
		t.Fatalf("expected key %q to be present", key)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("value of %q mismatch (-want +got):\n%s", key, diff)
	}
}

// StartState starts a deterministic State wired to bus and store and
// destroys it when the test ends.
func StartState(t *testing.T, role replica.Role, bus replica.Transport, store replica.Store, initial map[string]any, configure ...func(*replica.State)) *replica.State {
	t.Helper()
	s := replica.New(role, initial).Transport(bus).Store(store).SyncMode()
	for _, fn := range configure {
		fn(s)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Destroy()
	})
	return s
}

// NewHubAndLeaf starts a background hub and a content leaf bound to scope
// on a shared synchronous bus and memory store.
func NewHubAndLeaf(t *testing.T, scope int, initial map[string]any) (hub, leaf *replica.State, bus *replica.Bus) {
	t.Helper()
	bus = replica.NewSyncBus()
	store := replica.NewMemoryStore()
	hub = StartState(t, replica.RoleBackground, bus, store, initial)
	leaf = StartState(t, replica.RoleContent, bus, store, initial, func(s *replica.State) {
		s.Scope(scope)
	})
	return hub, leaf, bus
}
