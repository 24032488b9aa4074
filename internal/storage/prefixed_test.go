package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	baseDir := t.TempDir()
	local, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	if got := WithPrefix(local, "/"); got != ObjectStorage(local) {
		t.Error("empty prefix should return the storage unchanged")
	}

	for _, p := range []string{"lake/events/_delta_log/0.json", "lake/orders/_delta_log/0.json", "other/x.json"} {
		full := filepath.Join(baseDir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	scoped := WithPrefix(local, "/lake/")

	objects, err := scoped.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"events/_delta_log/0.json", "orders/_delta_log/0.json"}
	if !reflect.DeepEqual(objects, want) {
		t.Errorf("ListObjects = %v, want %v", objects, want)
	}

	data, err := scoped.Get(ctx, "events/_delta_log/0.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "lake/events/_delta_log/0.json" {
		t.Errorf("Get returned %q", data)
	}

	exists, err := scoped.Exists(ctx, "x.json")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("objects outside the prefix must not be visible")
	}
}
