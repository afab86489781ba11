// Package hitl is the human-in-the-loop surface: review items opened
// for fail-closed outcomes, reviewer-submitted correction records, and
// the append-only correction sink. Corrections never mutate a stored
// artifact; a REPROCESS run consumes them as input to a new run.
package hitl

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/store"
)

// Review item lifecycle.
const (
	StatusOpen      = "OPEN"
	StatusSubmitted = "SUBMITTED"
)

// ReviewItem is one message waiting in a review queue.
type ReviewItem struct {
	ReviewItemID string          `json:"review_item_id"`
	MessageID    string          `json:"message_id"`
	RunID        string          `json:"run_id"`
	QueueID      canonical.Queue `json:"queue_id"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status"`
	CreatedAt    string          `json:"created_at"`
}

// ReviewItemID derives the stable id for a review outcome. The routing
// artifact digest is part of the name, so re-running a message under a
// changed ruleset opens a distinct item while redelivery of the same
// outcome collapses onto one.
func ReviewItemID(messageID, runID string, queueID canonical.Queue, routing artifact.Ref) string {
	name := "review:" + messageID + ":" + runID + ":" + string(queueID) + ":" + routing.SHA256
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// ReviewStore persists review items in the shared SQLite database.
type ReviewStore struct {
	db  *store.DB
	now func() time.Time
}

// NewReviewStore wires the store to the shared database handle.
func NewReviewStore(db *store.DB) *ReviewStore {
	return &ReviewStore{db: db, now: time.Now}
}

// Open creates a review item in status OPEN. Re-opening an existing id
// is a no-op; the returned bool reports whether a row was created.
func (s *ReviewStore) Open(ctx context.Context, item ReviewItem) (bool, error) {
	now := s.now().UTC().Format(time.RFC3339)
	res, err := s.db.SQL().ExecContext(ctx,
		`INSERT OR IGNORE INTO review_items
		 (review_item_id, message_id, run_id, queue_id, reason, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ReviewItemID, item.MessageID, item.RunID, item.QueueID,
		item.Reason, StatusOpen, now, now)
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_write_failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_write_failed", err)
	}
	return n > 0, nil
}

// Get returns the item, or nil when the id is unknown.
func (s *ReviewStore) Get(ctx context.Context, reviewItemID string) (*ReviewItem, error) {
	var item ReviewItem
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT review_item_id, message_id, run_id, queue_id, reason, status, created_at
		 FROM review_items WHERE review_item_id = ?`, reviewItemID).
		Scan(&item.ReviewItemID, &item.MessageID, &item.RunID, &item.QueueID,
			&item.Reason, &item.Status, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_read_failed", err)
	}
	return &item, nil
}

// ListOpen returns the OPEN items of one queue, oldest first.
func (s *ReviewStore) ListOpen(ctx context.Context, queueID canonical.Queue) ([]ReviewItem, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT review_item_id, message_id, run_id, queue_id, reason, status, created_at
		 FROM review_items WHERE queue_id = ? AND status = ?
		 ORDER BY created_at, review_item_id`, queueID, StatusOpen)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_read_failed", err)
	}
	defer rows.Close()

	var out []ReviewItem
	for rows.Next() {
		var item ReviewItem
		if err := rows.Scan(&item.ReviewItemID, &item.MessageID, &item.RunID, &item.QueueID,
			&item.Reason, &item.Status, &item.CreatedAt); err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_scan_failed", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_scan_failed", err)
	}
	return out, nil
}

// HasOpen reports whether any review item for the message is still
// OPEN. The retention sweep consults this before deleting blobs.
func (s *ReviewStore) HasOpen(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE message_id = ? AND status = ?`,
		messageID, StatusOpen).Scan(&n)
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_read_failed", err)
	}
	return n > 0, nil
}

// markSubmitted flips OPEN to SUBMITTED. A zero row count means the
// item was not OPEN, which the caller treats as a conflict.
func (s *ReviewStore) markSubmitted(ctx context.Context, reviewItemID string) (bool, error) {
	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE review_items SET status = ?, updated_at = ?
		 WHERE review_item_id = ? AND status = ?`,
		StatusSubmitted, s.now().UTC().Format(time.RFC3339), reviewItemID, StatusOpen)
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_write_failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageHITL, "review_item_write_failed", err)
	}
	return n > 0, nil
}
