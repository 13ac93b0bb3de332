package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/replica"
)

// StoreTimeout bounds every wait in RunStoreConformance. Networked stores
// deliver notifications asynchronously.
var StoreTimeout = 10 * time.Second

// RunStoreConformance checks that store honors the replica.Store contract
// and carries durable keys between States. prefix keeps the keys used by
// separate runs apart; it must be valid as a key on the backend.
func RunStoreConformance(t *testing.T, store replica.Store, prefix string) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), StoreTimeout)
		defer cancel()

		if _, err := store.Get(ctx, prefix+"missing"); !errors.Is(err, replica.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), StoreTimeout)
		defer cancel()

		key := prefix + "roundtrip"
		for _, v := range []string{`{"theme":"light"}`, `{"theme":"dark"}`} {
			if err := store.Set(ctx, key, []byte(v)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != v {
				t.Errorf("expected %s, got %s", v, got)
			}
		}
	})

	t.Run("watch emits changes", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), StoreTimeout)
		defer cancel()

		key := prefix + "watched"
		if err := store.Set(ctx, key, []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		ch, err := store.Watch(ctx, key)
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		// Give the watch time to establish before writing.
		time.Sleep(100 * time.Millisecond)
		if err := store.Set(ctx, key, []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		for {
			select {
			case data, ok := <-ch:
				if !ok {
					t.Fatal("watch closed before the update arrived")
				}
				if string(data) == `{"v":2}` {
					return
				}
			case <-ctx.Done():
				t.Fatal("timeout waiting for update")
			}
		}
	})

	t.Run("watch closes on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := store.Watch(ctx, prefix+"closing")
		if err != nil {
			cancel()
			t.Fatalf("Watch failed: %v", err)
		}
		cancel()

		deadline := time.After(StoreTimeout)
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("timeout waiting for channel close")
			}
		}
	})

	t.Run("durable keys reach other states", func(t *testing.T) {
		key := prefix + "state"
		bus := replica.NewSyncBus()
		configure := func(scope int) func(*replica.State) {
			return func(s *replica.State) {
				s.Scope(scope).StorageKey(key).PersistentKeys("theme")
			}
		}

		writer := StartState(t, replica.RoleContent, bus, store, map[string]any{"theme": "light"}, configure(1))
		reader := StartState(t, replica.RoleContent, bus, store, map[string]any{"theme": "light"}, configure(2))

		if err := writer.Set("theme", "dark"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if !WaitForValue(t, reader, "theme", "dark", StoreTimeout) {
			t.Fatal("expected durable key to reach the other state")
		}

		late := StartState(t, replica.RoleContent, replica.NewSyncBus(), store, map[string]any{"theme": "light"}, configure(3))
		RequireValue(t, late, "theme", "dark")
	})
}
