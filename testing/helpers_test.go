package testing

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/replica"
)

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		result := WaitFor(t, 100*time.Millisecond, func() bool {
			return true
		})
		if !result {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		result := WaitFor(t, 50*time.Millisecond, func() bool {
			return false
		})
		if result {
			t.Error("expected WaitFor to return false on timeout")
		}
	})
}

func TestNewHubAndLeaf(t *testing.T) {
	hub, leaf, bus := NewHubAndLeaf(t, 4, map[string]any{"count": 0})

	RequireStatus(t, hub, replica.StatusReady)
	RequireStatus(t, leaf, replica.StatusReady)
	if leaf.ScopeID() != 4 {
		t.Errorf("expected leaf scope 4, got %d", leaf.ScopeID())
	}

	before := bus.Messages()
	if err := hub.Set("count", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	RequireValue(t, leaf, "count", float64(1))
	if bus.Messages() == before {
		t.Error("expected the hub to push")
	}
}

func TestWaitForValue(t *testing.T) {
	s := StartState(t, replica.RoleBackground, replica.NewSyncBus(), replica.NewMemoryStore(), nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Set("k", "v")
	}()
	if !WaitForValue(t, s, "k", "v", time.Second) {
		t.Error("expected value to appear")
	}
}

func TestMemoryStoreConformance(t *testing.T) {
	RunStoreConformance(t, replica.NewMemoryStore(), "memory-")
}

func TestStartState_Destroyed(t *testing.T) {
	s := replica.New(replica.RoleContent, nil).SyncMode()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	RequireStatus(t, s, replica.StatusDestroyed)
}
