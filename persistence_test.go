package replica

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errUnavailable = errors.New("store unavailable")

// flakyStore fails the first failures calls to Set.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	sets     atomic.Int32
}

func newFlakyStore(failures int32) *flakyStore {
	s := &flakyStore{MemoryStore: NewMemoryStore()}
	s.failures.Store(failures)
	return s
}

func (s *flakyStore) Set(ctx context.Context, key string, data []byte) error {
	s.sets.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errUnavailable
	}
	return s.MemoryStore.Set(ctx, key, data)
}

func TestPersistence_WriteRetries(t *testing.T) {
	store := newFlakyStore(2)
	s := startState(t, RoleBackground, NewSyncBus(), store, map[string]any{"theme": "light"}, withPersistent("theme"))

	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if got := store.sets.Load(); got != 3 {
		t.Errorf("expected 3 write attempts, got %d", got)
	}
	data, err := store.Get(context.Background(), DefaultStorageKey)
	if err != nil {
		t.Fatalf("expected durable record: %v", err)
	}
	if string(data) != `{"theme":"dark"}` {
		t.Errorf("unexpected durable record %s", data)
	}
	if err := s.LastError(); err != nil {
		t.Errorf("expected no recorded failure, got %v", err)
	}
}

func TestPersistence_WriteGivesUp(t *testing.T) {
	store := newFlakyStore(100)
	s := startState(t, RoleBackground, NewSyncBus(), store, map[string]any{"theme": "light"}, withPersistent("theme"))

	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set must not surface storage failures: %v", err)
	}

	if got := store.sets.Load(); got != writeRetries+1 {
		t.Errorf("expected %d write attempts, got %d", writeRetries+1, got)
	}
	err := s.LastError()
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected recorded store failure, got %v", err)
	}
	var f Failure
	if !errors.As(err, &f) || f.Op != "storage write" {
		t.Errorf("expected storage write failure, got %v", err)
	}
	if got := mustGet(t, s, "theme"); got != "dark" {
		t.Errorf("expected in-memory value to survive, got %v", got)
	}
}

func TestPersistence_SkipsUnchangedRecord(t *testing.T) {
	store := newFlakyStore(0)
	s := startState(t, RoleBackground, NewSyncBus(), store, map[string]any{"theme": "light", "count": 0}, withPersistent("theme"))

	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Replace(map[string]any{"theme": "dark", "count": 7}, SourceUser); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if err := s.Set("count", 8); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if got := store.sets.Load(); got != 1 {
		t.Errorf("expected 1 write, got %d", got)
	}
}

func TestPersistence_IndirectLeafNeverTouchesStore(t *testing.T) {
	store := newFlakyStore(0)
	s := startState(t, RoleOffscreen, NewSyncBus(), store, map[string]any{"theme": "light"}, withPersistent("theme"))

	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := store.sets.Load(); got != 0 {
		t.Errorf("expected no writes from an indirect leaf, got %d", got)
	}
	if _, err := store.Get(context.Background(), DefaultStorageKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no durable record, got %v", err)
	}
}

// slowStore delays every Set and gives up when ctx ends first.
type slowStore struct {
	*MemoryStore
	delay time.Duration
}

func (s *slowStore) Set(ctx context.Context, key string, data []byte) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryStore.Set(ctx, key, data)
}

func TestPersistence_DestroyWaitsForWriteInFlight(t *testing.T) {
	store := &slowStore{MemoryStore: NewMemoryStore(), delay: 30 * time.Millisecond}

	first := New(RoleBackground, map[string]any{"theme": "light"}).
		Transport(NewSyncBus()).
		Store(store).
		PersistentKeys("theme")
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := first.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	if err := first.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := first.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := first.LastError(); err != nil {
		t.Errorf("expected the write to complete, got %v", err)
	}

	second := startState(t, RoleBackground, NewSyncBus(), store, map[string]any{"theme": "light"}, withPersistent("theme"))
	if got := mustGet(t, second, "theme"); got != "dark" {
		t.Errorf("expected restored theme 'dark', got %v", got)
	}
}
