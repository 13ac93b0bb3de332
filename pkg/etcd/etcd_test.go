package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	rtesting "github.com/zoobzio/replica/testing"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestConformance(t *testing.T) {
	rtesting.RunStoreConformance(t, New(setupEtcd(t)), "conformance-")
}

func TestWithPrefix(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client, WithPrefix("/apps/web/"))
	if err := store.Set(ctx, "state", []byte(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	resp, err := client.Get(ctx, "/apps/web/state")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(resp.Kvs) != 1 || string(resp.Kvs[0].Value) != `{"theme":"dark"}` {
		t.Errorf("expected record under prefixed key, got %v", resp.Kvs)
	}
}

func TestWatch_IgnoresDeletes(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(client)
	if err := store.Set(ctx, "state", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ch, err := store.Watch(ctx, "state")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	<-ch

	if _, err := client.Delete(ctx, DefaultPrefix+"state"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Set(ctx, "state", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != `{"v":2}` {
			t.Errorf("expected put after delete, got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}
