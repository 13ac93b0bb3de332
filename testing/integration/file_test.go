package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zoobzio/replica"
	"github.com/zoobzio/replica/pkg/file"
	rtesting "github.com/zoobzio/replica/testing"
)

func TestFile_TransientKeyReachesEveryContext(t *testing.T) {
	tp := newTopology(t, file.New(t.TempDir()), map[string]any{"count": 0, "theme": "light"})

	if err := tp.tab1.Set("count", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// The hub applies but does not re-broadcast a leaf push.
	if !rtesting.WaitForValue(t, tp.background, "count", float64(1), settle) {
		t.Fatal("expected background to receive the leaf push")
	}

	if err := tp.worker.Set("count", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	tp.requireEverywhere(t, "count", float64(2))
}

func TestFile_DurableKeyReachesEveryContext(t *testing.T) {
	dir := t.TempDir()
	tp := newTopology(t, file.New(dir), map[string]any{"theme": "light"})

	if err := tp.tab2.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	tp.requireEverywhere(t, "theme", "dark")

	data, err := os.ReadFile(filepath.Join(dir, replica.DefaultStorageKey))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"theme":"dark"}` {
		t.Errorf("unexpected record %q", data)
	}
}

func TestFile_ExternalEditIsApplied(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	tp := newTopology(t, store, map[string]any{"theme": "light"})

	// Another process rewrites the record.
	if err := store.Set(context.Background(), replica.DefaultStorageKey, []byte(`{"theme":"solarized"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	tp.requireEverywhere(t, "theme", "solarized")
}

func TestFile_RestartRestoresDurableKeys(t *testing.T) {
	dir := t.TempDir()

	first := rtesting.StartState(t, replica.RoleBackground, replica.NewSyncBus(), file.New(dir),
		map[string]any{"theme": "light", "count": 0},
		func(s *replica.State) { s.PersistentKeys("theme") })
	if err := first.Set("theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Set("count", 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	second := rtesting.StartState(t, replica.RoleBackground, replica.NewSyncBus(), file.New(dir),
		map[string]any{"theme": "light", "count": 0},
		func(s *replica.State) { s.PersistentKeys("theme") })
	rtesting.RequireValue(t, second, "theme", "dark")
	rtesting.RequireValue(t, second, "count", float64(0))
}
