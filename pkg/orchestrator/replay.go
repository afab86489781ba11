package orchestrator

import (
	"context"

	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/store"
)

// StageHashes collects the decision hashes of one run, one per
// decision stage that produced an artifact.
type StageHashes struct {
	Identity string `json:"identity,omitempty"`
	Classify string `json:"classify,omitempty"`
	Route    string `json:"route,omitempty"`
}

// Mismatch is one diverging stage in a replay.
type Mismatch struct {
	Stage    canonical.Stage `json:"stage"`
	Recorded string          `json:"recorded"`
	Replayed string          `json:"replayed"`
}

// ReplayReport is the outcome of one determinism replay.
type ReplayReport struct {
	MessageID  string     `json:"message_id"`
	RunID      string     `json:"run_id"`
	Match      bool       `json:"match"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

type hashedArtifact struct {
	DecisionHash string `json:"decision_hash"`
}

// DecisionHashes reads the recorded decision hashes of a run from an
// artifact store.
func DecisionHashes(ctx context.Context, artifacts *store.ArtifactStore, messageID, runID string) (StageHashes, error) {
	var h StageHashes
	read := func(stage canonical.Stage, out *string) error {
		ref, err := artifacts.Latest(ctx, messageID, runID, stage)
		if err != nil {
			return err
		}
		if ref.IsZero() {
			return nil
		}
		var a hashedArtifact
		if err := artifacts.GetInto(ctx, ref, &a); err != nil {
			return err
		}
		*out = a.DecisionHash
		return nil
	}
	if err := read(canonical.StageIdentity, &h.Identity); err != nil {
		return StageHashes{}, err
	}
	if err := read(canonical.StageClassify, &h.Classify); err != nil {
		return StageHashes{}, err
	}
	if err := read(canonical.StageRoute, &h.Route); err != nil {
		return StageHashes{}, err
	}
	return h, nil
}

// Compare builds the report for one replay.
func Compare(messageID, runID string, recorded, replayed StageHashes) *ReplayReport {
	r := &ReplayReport{MessageID: messageID, RunID: runID, Match: true}
	check := func(stage canonical.Stage, rec, rep string) {
		if rec == rep {
			return
		}
		r.Match = false
		r.Mismatches = append(r.Mismatches, Mismatch{Stage: stage, Recorded: rec, Replayed: rep})
	}
	check(canonical.StageIdentity, recorded.Identity, replayed.Identity)
	check(canonical.StageClassify, recorded.Classify, replayed.Classify)
	check(canonical.StageRoute, recorded.Route, replayed.Route)
	return r
}

// Replayer re-executes a recorded run against scratch stores and
// verifies that every decision hash comes out identical. Fresh must be
// wired to empty job and artifact stores that share the blob store of
// the original run, so the raw MIME bytes resolve.
type Replayer struct {
	Recorded *store.ArtifactStore
	Fresh    *Pipeline
	Audit    audit.Log
}

// Replay runs the chain again and compares. A mismatch is reported,
// not an error; errors mean the replay could not run at all.
func (r *Replayer) Replay(ctx context.Context, job Job) (*ReplayReport, error) {
	recorded, err := DecisionHashes(ctx, r.Recorded, job.MessageID, job.RunID)
	if err != nil {
		return nil, err
	}
	if recorded == (StageHashes{}) {
		return nil, fault.New(fault.KindValidation, canonical.StageReprocess, "replay_run_unknown")
	}

	if _, err := r.Fresh.Run(ctx, job); err != nil && fault.Retryable(err) {
		return nil, err
	}
	replayed, err := DecisionHashes(ctx, r.Fresh.Artifacts, job.MessageID, job.RunID)
	if err != nil {
		return nil, err
	}

	report := Compare(job.MessageID, job.RunID, recorded, replayed)
	if r.Audit != nil {
		event, err := audit.NewEvent(audit.Draft{
			MessageID:  job.MessageID,
			RunID:      job.RunID,
			Stage:      canonical.StageReprocess,
			EventType:  audit.TypeReplay,
			OccurredAt: r.Fresh.clock(),
			ConfigRef:  r.Fresh.Snapshot.Ref(),
			Payload: map[string]any{
				"match":      report.Match,
				"mismatches": len(report.Mismatches),
			},
		})
		if err != nil {
			return nil, err
		}
		if err := r.Audit.Append(ctx, event); err != nil {
			return nil, err
		}
	}
	return report, nil
}
