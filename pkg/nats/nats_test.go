package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/zoobzio/replica"
	rtesting "github.com/zoobzio/replica/testing"
)

func setupNATS(t *testing.T) *nats.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcnats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	nc, err := nats.Connect(endpoint)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
	})
	return nc
}

func setupKV(t *testing.T, nc *nats.Conn) jetstream.KeyValue {
	t.Helper()
	ctx := context.Background()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("failed to create jetstream: %v", err)
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: "replica",
	})
	if err != nil {
		t.Fatalf("failed to create kv bucket: %v", err)
	}
	return kv
}

func TestStore_Conformance(t *testing.T) {
	nc := setupNATS(t)
	rtesting.RunStoreConformance(t, NewStore(setupKV(t, nc)), "replica-")
}

func TestStore_SkipsDeletes(t *testing.T) {
	nc := setupNATS(t)
	kv := setupKV(t, nc)
	store := NewStore(kv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Set(ctx, "record", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ch, err := store.Watch(ctx, "record")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	<-ch

	if err := kv.Delete(ctx, "record"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Set(ctx, "record", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != `{"v":2}` {
			t.Errorf("expected next value after delete, got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestTransport_RequestWithoutSubscribers(t *testing.T) {
	transport := NewTransport(setupNATS(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := transport.Request(ctx, "replica.default.shared", []byte(`{}`))
	if !errors.Is(err, replica.ErrNoResponders) {
		t.Errorf("expected ErrNoResponders, got %v", err)
	}
}

func TestTransport_WildcardSubscription(t *testing.T) {
	nc := setupNATS(t)
	transport := NewTransport(nc)

	got := make(chan string, 1)
	sub, err := transport.Subscribe("replica.default.scope.*", func(_ context.Context, data []byte) ([]byte, bool) {
		got <- string(data)
		return []byte("pong"), true
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := transport.Request(ctx, "replica.default.scope.7", []byte("ping"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("expected pong, got %q", reply)
	}
	if data := <-got; data != "ping" {
		t.Errorf("expected ping, got %q", data)
	}
}

func TestTransport_StatesConverge(t *testing.T) {
	nc := setupNATS(t)
	transport := NewTransport(nc)
	store := replica.NewMemoryStore()
	initial := map[string]any{"count": 0}

	hub := rtesting.StartState(t, replica.RoleBackground, transport, store, initial)
	leaf := rtesting.StartState(t, replica.RoleContent, transport, store, initial, func(s *replica.State) {
		s.Scope(3)
	})

	if err := leaf.Set("count", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !rtesting.WaitForValue(t, hub, "count", float64(1), 5*time.Second) {
		t.Fatal("expected hub to receive the leaf's change")
	}

	if err := hub.Set("count", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !rtesting.WaitForValue(t, leaf, "count", float64(2), 5*time.Second) {
		t.Fatal("expected leaf to receive the hub's change")
	}
}
