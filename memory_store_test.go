package replica

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_GetSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	data := []byte(`{"a":1}`)
	if err := s.Set(ctx, "k", data); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	data[0] = 'x'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("expected stored copy, got %s", got)
	}
}

func TestMemoryStore_Watch(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	_ = s.Set(context.Background(), "other", []byte("ignored"))
	_ = s.Set(context.Background(), "k", []byte("v1"))

	select {
	case got := <-ch:
		if string(got) != "v1" {
			t.Errorf("expected v1, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryStore_WatchCoalesces(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := s.Watch(ctx, "k")
	for _, v := range []string{"1", "2", "3"} {
		_ = s.Set(context.Background(), "k", []byte(v))
	}

	deadline := time.After(time.Second)
	for {
		select {
		case got := <-ch:
			if string(got) == "3" {
				return
			}
		case <-deadline:
			t.Fatal("expected to observe the latest value")
		}
	}
}
