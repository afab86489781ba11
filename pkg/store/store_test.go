package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/schema"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testArtifactStore(t *testing.T) *ArtifactStore {
	t.Helper()
	registry, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	blobs, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewArtifactStore(openTestDB(t), blobs, registry)
}

func validDraft(messageID, runID string) map[string]any {
	return map[string]any{
		"schema_id":      canonical.SchemaRequestInfoDraft,
		"message_id":     messageID,
		"run_id":         runID,
		"language":       "de",
		"subject":        "Rückfrage zu Ihrer Nachricht",
		"body":           "Bitte teilen Sie uns Ihre Polizzennummer mit.",
		"missing_fields": []string{"policy_number"},
	}
}

func TestPutIfAbsentWritesOnce(t *testing.T) {
	s := testArtifactStore(t)
	ctx := context.Background()

	ref1, wrote1, err := s.PutIfAbsent(ctx, canonical.SchemaRequestInfoDraft, "m-1", "r-1", canonical.StageRoute, validDraft("m-1", "r-1"))
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if !wrote1 {
		t.Error("first put reported no write")
	}

	ref2, wrote2, err := s.PutIfAbsent(ctx, canonical.SchemaRequestInfoDraft, "m-1", "r-1", canonical.StageRoute, validDraft("m-1", "r-1"))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if wrote2 {
		t.Error("second identical put wrote again")
	}
	if ref1 != ref2 {
		t.Errorf("refs differ: %+v vs %+v", ref1, ref2)
	}

	refs, err := s.List(ctx, "m-1", canonical.StageRoute)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("index has %d entries, want 1", len(refs))
	}
}

func TestPutIfAbsentRejectsInvalid(t *testing.T) {
	s := testArtifactStore(t)

	bad := validDraft("m-1", "r-1")
	bad["language"] = "fr" // outside the closed set
	_, _, err := s.PutIfAbsent(context.Background(), canonical.SchemaRequestInfoDraft, "m-1", "r-1", canonical.StageRoute, bad)
	if err == nil {
		t.Fatal("schema-invalid artifact was accepted")
	}

	refs, err := s.List(context.Background(), "m-1", canonical.StageRoute)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 0 {
		t.Error("invalid artifact reached the index")
	}
}

func TestGetIntoRoundTrip(t *testing.T) {
	s := testArtifactStore(t)
	ctx := context.Background()

	ref, _, err := s.PutIfAbsent(ctx, canonical.SchemaRequestInfoDraft, "m-2", "r-1", canonical.StageRoute, validDraft("m-2", "r-1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	var out map[string]any
	if err := s.GetInto(ctx, ref, &out); err != nil {
		t.Fatalf("GetInto: %v", err)
	}
	if out["message_id"] != "m-2" {
		t.Errorf("message_id = %v", out["message_id"])
	}
	if !strings.HasPrefix(ref.SHA256, "sha256:") {
		t.Errorf("ref digest %q not prefixed", ref.SHA256)
	}
}

func TestJobClaimIsExclusive(t *testing.T) {
	jobs := NewJobStore(openTestDB(t))
	ctx := context.Background()

	rec := JobRecord{JobID: "j-1", MessageID: "m-1", RunID: "r-1", Stage: canonical.StageIdentity}
	claimed, err := jobs.Claim(ctx, rec)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim refused")
	}

	claimed, err = jobs.Claim(ctx, rec)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Error("second claim of a running job succeeded")
	}

	if err := jobs.Complete(ctx, "j-1", canonical.JobDone, "sha256:"+strings.Repeat("ab", 32), ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := jobs.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != canonical.JobDone {
		t.Errorf("state = %s, want DONE", got.State)
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	jobs := NewJobStore(openTestDB(t))
	err := jobs.Complete(context.Background(), "missing", canonical.JobDone, "", "")
	if err == nil {
		t.Error("completing an unclaimed job succeeded")
	}
}

func TestRememberIngestDedup(t *testing.T) {
	jobs := NewJobStore(openTestDB(t))
	ctx := context.Background()
	raw := "sha256:" + strings.Repeat("11", 32)

	msg, run, dup, err := jobs.RememberIngest(ctx, raw, "m-1", "r-1")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if dup || msg != "m-1" || run != "r-1" {
		t.Errorf("first ingest: msg=%s run=%s dup=%v", msg, run, dup)
	}

	msg, run, dup, err = jobs.RememberIngest(ctx, raw, "m-2", "r-2")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !dup || msg != "m-1" || run != "r-1" {
		t.Errorf("second ingest did not dedup: msg=%s run=%s dup=%v", msg, run, dup)
	}
}
