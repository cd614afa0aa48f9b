package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	locator, err := store.Put(ctx, "uploads/abc.glb", []byte("model-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if locator != "uploads/abc.glb" {
		t.Fatalf("locator = %q, want uploads/abc.glb", locator)
	}

	data, err := store.Get(ctx, locator)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "model-bytes" {
		t.Fatalf("Get returned %q", data)
	}

	if err := store.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestFileStoreDeleteMissingIsNoError(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Delete(context.Background(), "uploads/never-existed.glb"); err != nil {
		t.Fatalf("Delete of missing object: %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../escape.glb", "a/../../escape.glb", "", "."} {
		if _, err := store.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should be rejected", key)
		}
	}

	// Absolute and dot-prefixed keys are normalized inside the root.
	locator, err := store.Put(ctx, "/uploads/abs.glb", []byte("x"))
	if err != nil {
		t.Fatalf("Put absolute key: %v", err)
	}
	if locator != "uploads/abs.glb" {
		t.Fatalf("locator = %q, want uploads/abs.glb", locator)
	}
	if _, err := os.Stat(filepath.Join(base, "uploads", "abs.glb")); err != nil {
		t.Fatalf("normalized object missing: %v", err)
	}
}

func TestFileStoreLinkFor(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	locator, err := store.Put(ctx, "outputs/job1.glb", []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	link, err := store.LinkFor(ctx, locator, time.Hour)
	if err != nil {
		t.Fatalf("LinkFor: %v", err)
	}
	if link != "/v1/artifacts?key=outputs%2Fjob1.glb" {
		t.Fatalf("link = %q", link)
	}

	if _, err := store.LinkFor(ctx, "outputs/missing.glb", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LinkFor missing object: got %v, want ErrNotFound", err)
	}
}

func TestSelectUnknownBackend(t *testing.T) {
	if _, err := Select(context.Background(), Backend("ftp"), "", S3Options{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
