package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// JobRecord is the persisted state of one stage job.
type JobRecord struct {
	JobID        string
	MessageID    string
	RunID        string
	Stage        canonical.Stage
	State        canonical.JobState
	OutputSHA256 string
	Reason       string
}

// JobStore records stage job state transitions. Transitions are
// compare-and-swap on the current state, which is what makes double
// delivery observable instead of destructive.
type JobStore struct {
	db  *DB
	now func() time.Time
}

// NewJobStore wires the shared database.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// Get returns the record for jobID, or nil when the job is unknown.
func (s *JobStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	var output, reason sql.NullString
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT job_id, message_id, run_id, stage, state, output_sha256, reason
		 FROM jobs WHERE job_id = ?`, jobID).
		Scan(&rec.JobID, &rec.MessageID, &rec.RunID, &rec.Stage, &rec.State, &output, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "job_query_failed", err)
	}
	rec.OutputSHA256 = output.String
	rec.Reason = reason.String
	return &rec, nil
}

// Claim moves a job to RUNNING. It returns false when the job already
// exists in a state other than PENDING, meaning another attempt owns
// or finished it.
func (s *JobStore) Claim(ctx context.Context, rec JobRecord) (bool, error) {
	now := s.now().UTC().Format(time.RFC3339)
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO jobs (job_id, message_id, run_id, stage, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET state = ?, updated_at = ?
		 WHERE jobs.state = ?`,
		rec.JobID, rec.MessageID, rec.RunID, rec.Stage, canonical.JobRunning, now,
		canonical.JobRunning, now, canonical.JobPending)
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, rec.Stage, "job_claim_failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, rec.Stage, "job_claim_failed", err)
	}
	return n > 0, nil
}

// Complete moves a RUNNING job to a terminal state with its output
// digest or fail-closed reason.
func (s *JobStore) Complete(ctx context.Context, jobID string, state canonical.JobState, outputSHA256, reason string) error {
	switch state {
	case canonical.JobDone, canonical.JobFailedClosed, canonical.JobDeadLettered:
	default:
		return fault.New(fault.KindInternal, "", "job_bad_terminal_state")
	}
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE jobs SET state = ?, output_sha256 = ?, reason = ?, updated_at = ?
		 WHERE job_id = ? AND state = ?`,
		state, outputSHA256, reason, s.now().UTC().Format(time.RFC3339),
		jobID, canonical.JobRunning)
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "job_complete_failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "job_complete_failed", err)
	}
	if n == 0 {
		return fault.New(fault.KindIntegrity, "", "job_not_running")
	}
	return nil
}

// RememberIngest records the dedup mapping raw digest -> first run.
// The first writer wins; later identical ingests observe the original.
func (s *JobStore) RememberIngest(ctx context.Context, rawSHA256, messageID, runID string) (string, string, bool, error) {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO ingest_dedup (raw_sha256, message_id, run_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		rawSHA256, messageID, runID, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", "", false, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_write_failed", err)
	}
	var gotMessage, gotRun string
	err = s.db.sql.QueryRowContext(ctx,
		`SELECT message_id, run_id FROM ingest_dedup WHERE raw_sha256 = ?`, rawSHA256).
		Scan(&gotMessage, &gotRun)
	if err != nil {
		return "", "", false, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_query_failed", err)
	}
	duplicate := gotMessage != messageID || gotRun != runID
	return gotMessage, gotRun, duplicate, nil
}

// IngestRecord is one dedup row, the anchor of a retained message.
type IngestRecord struct {
	RawSHA256 string
	MessageID string
	RunID     string
	CreatedAt time.Time
}

// IngestedBefore lists dedup rows older than cutoff, oldest first.
// The retention sweeper walks these to find expired raw material.
func (s *JobStore) IngestedBefore(ctx context.Context, cutoff time.Time) ([]IngestRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT raw_sha256, message_id, run_id, created_at FROM ingest_dedup
		 WHERE created_at < ? ORDER BY created_at`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_query_failed", err)
	}
	defer rows.Close()

	var out []IngestRecord
	for rows.Next() {
		var rec IngestRecord
		var created string
		if err := rows.Scan(&rec.RawSHA256, &rec.MessageID, &rec.RunID, &created); err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_query_failed", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_query_failed", err)
	}
	return out, nil
}

// IngestLookup returns the dedup row for a message, or nil when the
// message was never ingested (or already purged).
func (s *JobStore) IngestLookup(ctx context.Context, messageID string) (*IngestRecord, error) {
	var rec IngestRecord
	var created string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT raw_sha256, message_id, run_id, created_at FROM ingest_dedup
		 WHERE message_id = ?`, messageID).
		Scan(&rec.RawSHA256, &rec.MessageID, &rec.RunID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_query_failed", err)
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// ForgetIngest removes the dedup row after its raw material is purged.
// The same payload arriving later starts a fresh chain.
func (s *JobStore) ForgetIngest(ctx context.Context, rawSHA256 string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM ingest_dedup WHERE raw_sha256 = ?`, rawSHA256)
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "dedup_delete_failed", err)
	}
	return nil
}
