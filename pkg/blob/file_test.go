package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutGetRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	data := []byte("raw mime bytes")
	digest, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, digest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestFileStorePutIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	d1, err := store.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	d2, err := store.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if d1 != d2 {
		t.Errorf("digests differ: %s vs %s", d1, d2)
	}
}

func TestFileStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	digest, err := store.Put(ctx, []byte("pristine"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	hexDigest := digest[len("sha256:"):]
	path := filepath.Join(dir, hexDigest[:2], hexDigest+".blob")
	if err := os.WriteFile(path, []byte("tampered"), 0o640); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := store.Get(ctx, digest); err == nil {
		t.Error("Get returned tampered bytes without error")
	}
}

func TestFileStoreRejectsBadDigest(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, bad := range []string{"", "sha256:short", "md5:aaaa", "sha256:" + string(make([]byte, 64))} {
		if _, err := store.Get(context.Background(), bad); err == nil {
			t.Errorf("Get(%q) accepted a malformed digest", bad)
		}
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	digest, err := store.Put(ctx, []byte("short-lived"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, digest); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err := store.Exists(ctx, digest)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("blob still present after delete")
	}
}
