package replica

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDispatcher_Order(t *testing.T) {
	d := newDispatcher()
	var got []string
	d.subscribe(func(c Change) { got = append(got, "first:"+c.Key) })
	d.subscribe(func(c Change) { got = append(got, "second:"+c.Key) })

	d.emit(Change{Key: "a"})
	d.emit(Change{Key: "b"})

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_ReentrantEmitIsQueued(t *testing.T) {
	d := newDispatcher()
	var got []string
	d.subscribe(func(c Change) {
		got = append(got, "outer:"+c.Key)
		if c.Key == "a" {
			d.emit(Change{Key: "nested"})
			got = append(got, "after-nested-emit")
		}
	})
	d.subscribe(func(c Change) { got = append(got, "inner:"+c.Key) })

	d.emit(Change{Key: "a"})

	want := []string{"outer:a", "after-nested-emit", "inner:a", "outer:nested", "inner:nested"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("re-entrant delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := newDispatcher()
	count := 0
	cancel := d.subscribe(func(Change) { count++ })

	d.emit(Change{Key: "a"})
	cancel()
	d.emit(Change{Key: "b"})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestDispatcher_Closed(t *testing.T) {
	d := newDispatcher()
	count := 0
	d.subscribe(func(Change) { count++ })

	d.close()
	d.emit(Change{Key: "a"})

	if count != 0 {
		t.Errorf("expected no delivery after close, got %d", count)
	}
}

func TestState_ListenerMayMutate(t *testing.T) {
	s := startState(t, RoleBackground, NewSyncBus(), NewMemoryStore(), map[string]any{"a": 0, "b": 0})

	var keys []string
	cancel, err := s.OnChange(func(c Change) {
		keys = append(keys, c.Key)
		if c.Key == "a" {
			if err := s.Set("b", 1); err != nil {
				t.Errorf("nested Set failed: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("OnChange failed: %v", err)
	}
	defer cancel()

	if err := s.Set("a", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, keys); diff != "" {
		t.Errorf("change order mismatch (-want +got):\n%s", diff)
	}
}
