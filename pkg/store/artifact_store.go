package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/schema"
)

// ArtifactStore is the schema-validating write-once store for stage
// outputs. Every put validates against the registry first; a value
// that fails validation never reaches disk.
type ArtifactStore struct {
	db       *DB
	blobs    blob.Store
	registry *schema.Registry
	now      func() time.Time
}

// NewArtifactStore wires the index, the byte store and the registry.
func NewArtifactStore(db *DB, blobs blob.Store, registry *schema.Registry) *ArtifactStore {
	return &ArtifactStore{db: db, blobs: blobs, registry: registry, now: time.Now}
}

// PutIfAbsent validates v, canonicalizes it, and stores it once. The
// returned bool is false when an identical artifact was already
// indexed for (message_id, stage, run_id), in which case no write
// happened.
func (s *ArtifactStore) PutIfAbsent(ctx context.Context, schemaID, messageID, runID string, stage canonical.Stage, v any) (artifact.Ref, bool, error) {
	if err := s.registry.Validate(schemaID, v); err != nil {
		return artifact.Ref{}, false, err
	}
	data, err := canonicalize.JCS(v)
	if err != nil {
		return artifact.Ref{}, false, fault.Wrap(fault.KindInternal, stage, "artifact_not_canonicalizable", err)
	}

	digest := canonicalize.Digest(data)
	uri := fmt.Sprintf("blob://%s", digest)
	ref := artifact.Ref{SchemaID: schemaID, URI: uri, SHA256: digest}

	var existing string
	err = s.db.sql.QueryRowContext(ctx,
		`SELECT sha256 FROM artifacts WHERE sha256 = ? AND message_id = ? AND stage = ? AND run_id = ?`,
		digest, messageID, stage, runID).Scan(&existing)
	switch {
	case err == nil:
		return ref, false, nil
	case err != sql.ErrNoRows:
		return artifact.Ref{}, false, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_query_failed", err)
	}

	if _, err := s.blobs.Put(ctx, data); err != nil {
		return artifact.Ref{}, false, err
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts (sha256, schema_id, message_id, stage, run_id, uri, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		digest, schemaID, messageID, stage, runID, uri, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return artifact.Ref{}, false, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_write_failed", err)
	}
	return ref, true, nil
}

// Get returns the canonical bytes of a stored artifact.
func (s *ArtifactStore) Get(ctx context.Context, ref artifact.Ref) ([]byte, error) {
	return s.blobs.Get(ctx, ref.SHA256)
}

// GetInto unmarshals a stored artifact into out.
func (s *ArtifactStore) GetInto(ctx context.Context, ref artifact.Ref, out any) error {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fault.Wrap(fault.KindIntegrity, "", "artifact_unparsable", err)
	}
	return nil
}

// List returns the refs stored for (message_id, stage), oldest first.
func (s *ArtifactStore) List(ctx context.Context, messageID string, stage canonical.Stage) ([]artifact.Ref, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT sha256, schema_id, uri FROM artifacts
		 WHERE message_id = ? AND stage = ? ORDER BY created_at, sha256`,
		messageID, stage)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_query_failed", err)
	}
	defer rows.Close()

	var out []artifact.Ref
	for rows.Next() {
		var ref artifact.Ref
		if err := rows.Scan(&ref.SHA256, &ref.SchemaID, &ref.URI); err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_scan_failed", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_scan_failed", err)
	}
	return out, nil
}

// Latest returns the most recently stored ref for (message_id, run_id,
// stage), or a zero ref when none exists.
func (s *ArtifactStore) Latest(ctx context.Context, messageID, runID string, stage canonical.Stage) (artifact.Ref, error) {
	var ref artifact.Ref
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT sha256, schema_id, uri FROM artifacts
		 WHERE message_id = ? AND run_id = ? AND stage = ?
		 ORDER BY created_at DESC, sha256 DESC LIMIT 1`,
		messageID, runID, stage).Scan(&ref.SHA256, &ref.SchemaID, &ref.URI)
	if err == sql.ErrNoRows {
		return artifact.Ref{}, nil
	}
	if err != nil {
		return artifact.Ref{}, fault.Wrap(fault.KindDependencyUnavailable, stage, "artifact_index_query_failed", err)
	}
	return ref, nil
}
