package hitl

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/schema"
	"github.com/intake-labs/ire/pkg/store"
)

// CorrectionRecord is the persisted reviewer correction. It references
// the artifacts it corrects; the artifacts themselves are never
// touched.
type CorrectionRecord struct {
	SchemaID           string         `json:"schema_id"`
	CorrectionID       string         `json:"correction_id"`
	ReviewItemID       string         `json:"review_item_id"`
	ActorID            string         `json:"actor_id"`
	CreatedAt          string         `json:"created_at"`
	Patch              []PatchOp      `json:"patch"`
	TargetArtifactRefs []artifact.Ref `json:"target_artifact_refs"`
	Note               *string        `json:"note"`
}

// Service runs the correction submit path: authenticate, check the
// review item, prove the patch applies, persist, audit.
type Service struct {
	Reviews   *ReviewStore
	Artifacts *store.ArtifactStore
	Registry  *schema.Registry
	Verifier  *Verifier
	Audit     audit.Log // optional
	ConfigRef config.Ref
	Now       func() time.Time
}

// SubmitInput is one reviewer submission.
type SubmitInput struct {
	Token        string
	ReviewItemID string
	Patch        []PatchOp
	Note         *string
}

// Submit validates and persists a correction, flips the review item to
// SUBMITTED, and appends the HITL audit event. Resubmitting an
// identical correction is a no-op returning the stored record;
// resubmitting a different one under the same identity is an integrity
// fault.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*CorrectionRecord, error) {
	actorID, err := s.Verifier.Verify(in.Token)
	if err != nil {
		return nil, err
	}

	item, err := s.Reviews.Get(ctx, in.ReviewItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fault.New(fault.KindValidation, canonical.StageHITL, "review_item_unknown")
	}
	if item.Status != StatusOpen {
		return nil, fault.New(fault.KindValidation, canonical.StageHITL, "review_item_not_open")
	}

	routingRef, targets, err := s.targetRefs(ctx, item)
	if err != nil {
		return nil, err
	}

	// Prove the patch applies cleanly to the routing artifact before
	// anything is persisted.
	if err := s.dryRun(ctx, routingRef, in.Patch); err != nil {
		return nil, err
	}

	createdAt := audit.FormatTime(s.clock()())
	patchDigest, err := canonicalize.CanonicalHash(in.Patch)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, canonical.StageHITL, "correction_patch_not_canonicalizable", err)
	}
	name := "correction:" + item.ReviewItemID + ":" + actorID + ":" + createdAt + ":" + patchDigest
	rec := &CorrectionRecord{
		SchemaID:           canonical.SchemaCorrectionRecord,
		CorrectionID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
		ReviewItemID:       item.ReviewItemID,
		ActorID:            actorID,
		CreatedAt:          createdAt,
		Patch:              in.Patch,
		TargetArtifactRefs: targets,
		Note:               in.Note,
	}
	if err := s.Registry.Validate(canonical.SchemaCorrectionRecord, rec); err != nil {
		return nil, err
	}

	sha, err := s.persist(ctx, rec)
	if err != nil {
		return nil, err
	}

	if _, err := s.Reviews.markSubmitted(ctx, item.ReviewItemID); err != nil {
		return nil, err
	}

	if err := s.appendAudit(ctx, item, rec, routingRef, sha); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) clock() func() time.Time {
	if s.Now != nil {
		return s.Now
	}
	return time.Now
}

// targetRefs collects the latest decision artifacts of the run. The
// routing decision is mandatory; classification and extraction are
// included when present.
func (s *Service) targetRefs(ctx context.Context, item *ReviewItem) (artifact.Ref, []artifact.Ref, error) {
	routing, err := s.Artifacts.Latest(ctx, item.MessageID, item.RunID, canonical.StageRoute)
	if err != nil {
		return artifact.Ref{}, nil, err
	}
	if routing.IsZero() {
		return artifact.Ref{}, nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_target_missing")
	}
	targets := []artifact.Ref{routing}
	for _, stage := range []canonical.Stage{canonical.StageClassify, canonical.StageExtract} {
		ref, err := s.Artifacts.Latest(ctx, item.MessageID, item.RunID, stage)
		if err != nil {
			return artifact.Ref{}, nil, err
		}
		if !ref.IsZero() {
			targets = append(targets, ref)
		}
	}
	return routing, targets, nil
}

func (s *Service) dryRun(ctx context.Context, routing artifact.Ref, ops []PatchOp) error {
	data, err := s.Artifacts.Get(ctx, routing)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fault.Wrap(fault.KindIntegrity, canonical.StageHITL, "artifact_unparsable", err)
	}
	_, err = ApplyPatch(doc, ops)
	return err
}

// persist appends the record to the correction sink. The sink is
// append-only: an existing row with a different body is an integrity
// violation, never an overwrite.
func (s *Service) persist(ctx context.Context, rec *CorrectionRecord) (string, error) {
	body, err := canonicalize.JCS(rec)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, canonical.StageHITL, "correction_not_canonicalizable", err)
	}
	sha := canonicalize.Digest(body)

	var existing string
	err = s.Reviews.db.SQL().QueryRowContext(ctx,
		`SELECT sha256 FROM corrections WHERE correction_id = ?`, rec.CorrectionID).Scan(&existing)
	switch {
	case err == nil:
		if existing != sha {
			return "", fault.New(fault.KindIntegrity, canonical.StageHITL, "correction_immutability_violation")
		}
		return sha, nil
	case err != sql.ErrNoRows:
		return "", fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "correction_read_failed", err)
	}

	_, err = s.Reviews.db.SQL().ExecContext(ctx,
		`INSERT INTO corrections (correction_id, review_item_id, actor_id, body, sha256, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CorrectionID, rec.ReviewItemID, rec.ActorID, string(body), sha, rec.CreatedAt)
	if err != nil {
		return "", fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "correction_write_failed", err)
	}
	return sha, nil
}

// Corrections returns the stored records for a review item, oldest
// first. REPROCESS runs read their input here.
func (s *Service) Corrections(ctx context.Context, reviewItemID string) ([]CorrectionRecord, error) {
	rows, err := s.Reviews.db.SQL().QueryContext(ctx,
		`SELECT body FROM corrections WHERE review_item_id = ? ORDER BY created_at, correction_id`,
		reviewItemID)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "correction_read_failed", err)
	}
	defer rows.Close()

	var out []CorrectionRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "correction_scan_failed", err)
		}
		var rec CorrectionRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, canonical.StageHITL, "correction_corrupt", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "correction_scan_failed", err)
	}
	return out, nil
}

func (s *Service) appendAudit(ctx context.Context, item *ReviewItem, rec *CorrectionRecord, routing artifact.Ref, sha string) error {
	if s.Audit == nil {
		return nil
	}
	outputRef := artifact.Ref{
		SchemaID: canonical.SchemaCorrectionRecord,
		URI:      "correction://" + rec.CorrectionID,
		SHA256:   sha,
	}
	event, err := audit.NewEvent(audit.Draft{
		MessageID:  item.MessageID,
		RunID:      item.RunID,
		Stage:      canonical.StageHITL,
		EventType:  audit.TypeCorrection,
		OccurredAt: s.clock()(),
		InputRef:   &routing,
		OutputRef:  &outputRef,
		ConfigRef:  s.ConfigRef,
		Payload: map[string]any{
			"actor_id":       rec.ActorID,
			"review_item_id": rec.ReviewItemID,
		},
	})
	if err != nil {
		return err
	}
	return s.Audit.Append(ctx, event)
}
