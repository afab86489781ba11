// Package retention purges raw message material past its configured
// lifetime. Only content blobs go: raw MIME bytes, attachment bytes
// and extracted text. Artifacts, job rows and audit chains stay, so a
// purged run remains explainable without remaining reconstructable.
package retention

import (
	"context"
	"time"

	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/hitl"
	"github.com/intake-labs/ire/pkg/store"
)

// sweepChain is the audit chain key under which purge events land.
// Retention acts across messages, so it gets its own chain instead of
// appending to the chains it erases material from.
const sweepChain = "retention"

// Report counts one sweep.
type Report struct {
	Scanned      int `json:"scanned"`
	Purged       int `json:"purged"`
	SkippedOpen  int `json:"skipped_open_review"`
	BlobsDeleted int `json:"blobs_deleted"`
}

// Sweeper walks expired ingest rows and deletes their content blobs.
type Sweeper struct {
	Snapshot  *config.Snapshot
	Jobs      *store.JobStore
	Artifacts *store.ArtifactStore
	Blobs     blob.Store
	Reviews   *hitl.ReviewStore
	Audit     audit.Log
	Now       func() time.Time
}

func (s *Sweeper) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sweep purges every message ingested before the retention window.
// Messages with an open review item are skipped: a reviewer may still
// need the original material, and the next sweep retries them.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	cutoff := s.clock().AddDate(0, 0, -s.Snapshot.Retention.RawMessageDays)
	expired, err := s.Jobs.IngestedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, rec := range expired {
		report.Scanned++
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if s.Reviews != nil {
			open, err := s.Reviews.HasOpen(ctx, rec.MessageID)
			if err != nil {
				return report, err
			}
			if open {
				report.SkippedOpen++
				continue
			}
		}

		deleted, err := s.purge(ctx, rec)
		if err != nil {
			return report, err
		}
		report.BlobsDeleted += deleted
		report.Purged++

		if err := s.appendEvent(ctx, rec, deleted); err != nil {
			return report, err
		}
	}
	return report, nil
}

// purge deletes the raw MIME blob, every attachment blob and every
// extracted-text blob of one message, then drops the dedup row.
func (s *Sweeper) purge(ctx context.Context, rec store.IngestRecord) (int, error) {
	deleted := 0
	remove := func(digest string) error {
		if digest == "" {
			return nil
		}
		ok, err := s.Blobs.Exists(ctx, digest)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.Blobs.Delete(ctx, digest); err != nil {
			return err
		}
		deleted++
		return nil
	}

	if err := remove(rec.RawSHA256); err != nil {
		return deleted, err
	}

	refs, err := s.Artifacts.List(ctx, rec.MessageID, canonical.StageAttachments)
	if err != nil {
		return deleted, err
	}
	for _, ref := range refs {
		var att attachmentBlobs
		if err := s.Artifacts.GetInto(ctx, ref, &att); err != nil {
			return deleted, err
		}
		if err := remove(att.SHA256); err != nil {
			return deleted, err
		}
		if att.TextRef != nil {
			if err := remove(att.TextRef.SHA256); err != nil {
				return deleted, err
			}
		}
	}

	return deleted, s.Jobs.ForgetIngest(ctx, rec.RawSHA256)
}

// attachmentBlobs is the slice of the attachment artifact the sweeper
// needs: the stored bytes and the extracted text.
type attachmentBlobs struct {
	SHA256  string `json:"sha256"`
	TextRef *struct {
		SHA256 string `json:"sha256"`
	} `json:"extracted_text_ref"`
}

func (s *Sweeper) appendEvent(ctx context.Context, rec store.IngestRecord, deleted int) error {
	if s.Audit == nil {
		return nil
	}
	event, err := audit.NewEvent(audit.Draft{
		MessageID:  sweepChain,
		RunID:      sweepChain,
		Stage:      canonical.StageReprocess,
		EventType:  audit.TypeStageCompleted,
		OccurredAt: s.clock(),
		ConfigRef:  s.Snapshot.Ref(),
		Payload: map[string]any{
			"action":        "RETENTION_PURGE",
			"message_id":    rec.MessageID,
			"run_id":        rec.RunID,
			"raw_sha256":    rec.RawSHA256,
			"blobs_deleted": deleted,
		},
	})
	if err != nil {
		return err
	}
	return s.Audit.Append(ctx, event)
}
