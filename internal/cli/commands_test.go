package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/zoobzio/replica"
)

func TestSetThenGet_ThroughFileStore(t *testing.T) {
	storeURL := "file://" + t.TempDir()

	if _, err := execute(t, "set", "--store", storeURL, "--persist", "theme,size", "theme=dark", "size=12"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	output, err := execute(t, "get", "--store", storeURL, "--persist", "theme,size", "theme")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.TrimSpace(output) != `"dark"` {
		t.Errorf("expected \"dark\", got %q", output)
	}

	output, err = execute(t, "get", "--store", storeURL, "--persist", "theme,size", "theme", "size")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if output != "theme=\"dark\"\nsize=12\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestGet_WholeState(t *testing.T) {
	storeURL := "file://" + t.TempDir()
	if _, err := execute(t, "set", "--store", storeURL, "--persist", "theme", "theme=light"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	output, err := execute(t, "get", "--store", storeURL, "--persist", "theme")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.TrimSpace(output) != `{"theme":"light"}` {
		t.Errorf("unexpected output %q", output)
	}
}

func TestGet_MissingKey(t *testing.T) {
	if _, err := execute(t, "get", "--store", "memory://", "absent"); err == nil {
		t.Error("expected error for a key that is not set")
	}
}

func TestSet_RequiresAssignment(t *testing.T) {
	if _, err := execute(t, "set"); err == nil {
		t.Error("expected error without arguments")
	}
	if _, err := execute(t, "set", "novalue"); err == nil {
		t.Error("expected error for malformed assignment")
	}
}

func TestSet_UnsupportedStore(t *testing.T) {
	_, err := execute(t, "set", "--store", "s3://bucket", "theme=dark")
	if !errors.Is(err, ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore, got %v", err)
	}
}

func TestPrintChange(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printChange(&buf, replica.Change{Key: "theme", Value: "dark", Source: replica.SourceUser})
	printChange(&buf, replica.Change{Key: replica.AllKeys, Value: map[string]any{"a": 1}, Source: replica.SourceSync})

	want := "[user] theme = \"dark\"\n[sync] * = {\"a\":1}\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}
