package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunIDStableForSameBytes(t *testing.T) {
	r1 := RunID("m-1", "sha256:aa")
	r2 := RunID("m-1", "sha256:aa")
	if r1 != r2 {
		t.Errorf("run ids differ: %s vs %s", r1, r2)
	}
	if RunID("m-1", "sha256:bb") == r1 {
		t.Error("different bytes share a run id")
	}
	if ReprocessRunID("m-1", "sha256:aa", 1) == r1 {
		t.Error("reprocess run collides with the original run")
	}
	if ReprocessRunID("m-1", "sha256:aa", 1) == ReprocessRunID("m-1", "sha256:aa", 2) {
		t.Error("distinct reprocess runs collide")
	}
}

func TestDropboxOrderingAndCursor(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string, mtime time.Time) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	write("b.eml", "second", base.Add(time.Minute))
	write("a.eml", "first", base)
	write("ignored.txt", "not mail", base)

	d, err := NewDropbox(dir)
	if err != nil {
		t.Fatalf("NewDropbox: %v", err)
	}
	ctx := context.Background()

	m1, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m1 == nil || m1.SourceMessageID != "a.eml" {
		t.Fatalf("first message = %+v, want a.eml", m1)
	}

	// Uncommitted messages are re-offered.
	again, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if again.SourceMessageID != "a.eml" {
		t.Errorf("uncommitted message skipped: got %s", again.SourceMessageID)
	}

	if err := d.Commit(ctx, "a.eml"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	m2, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m2.SourceMessageID != "b.eml" {
		t.Errorf("second message = %s, want b.eml", m2.SourceMessageID)
	}
	if err := d.Commit(ctx, "b.eml"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	empty, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if empty != nil {
		t.Errorf("drained source returned %+v", empty)
	}

	// A fresh instance resumes from the cursor file.
	d2, err := NewDropbox(dir)
	if err != nil {
		t.Fatalf("NewDropbox: %v", err)
	}
	resumed, err := d2.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if resumed != nil {
		t.Errorf("restart reingested %+v", resumed)
	}
}
