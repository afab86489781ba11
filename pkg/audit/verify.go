package audit

import (
	"context"
	"fmt"

	"github.com/intake-labs/ire/pkg/schema"
)

// Report is the outcome of verifying one chain. BrokenIndex is the
// zero-based position of the first broken link, or -1 when the chain
// is intact.
type Report struct {
	EventsChecked int    `json:"events_checked"`
	BrokenIndex   int    `json:"broken_index"`
	Reason        string `json:"reason,omitempty"`
}

// OK reports whether the chain verified end to end.
func (r *Report) OK() bool { return r.BrokenIndex < 0 }

// VerifyEvents walks a chain recomputing every event hash and checking
// every prev link. The first discrepancy stops the walk.
func VerifyEvents(events []Event) *Report {
	report := &Report{BrokenIndex: -1}
	prev := GenesisHash
	for i, e := range events {
		if e.MessageID != events[0].MessageID || e.RunID != events[0].RunID {
			return broken(report, i, fmt.Sprintf("chain key mismatch: (%s,%s)", e.MessageID, e.RunID))
		}
		if e.PrevEventHash != prev {
			return broken(report, i, fmt.Sprintf("prev_event_hash %s, expected %s", e.PrevEventHash, prev))
		}
		computed, err := HashEvent(&e)
		if err != nil {
			return broken(report, i, fmt.Sprintf("hash recompute failed: %v", err))
		}
		if computed != e.EventHash {
			return broken(report, i, fmt.Sprintf("event_hash %s, recomputed %s", e.EventHash, computed))
		}
		prev = e.EventHash
		report.EventsChecked++
	}
	return report
}

func broken(r *Report, index int, reason string) *Report {
	r.BrokenIndex = index
	r.Reason = reason
	return r
}

// StoreReport aggregates verification across every chain in a store.
type StoreReport struct {
	ChainsChecked int      `json:"chains_checked"`
	EventsChecked int      `json:"events_checked"`
	Errors        []string `json:"errors,omitempty"`
}

// OK reports whether every chain in the store verified.
func (r *StoreReport) OK() bool { return len(r.Errors) == 0 }

// VerifyAll verifies every chain under the log, optionally
// schema-validating each event. Errors are collected per chain rather
// than stopping at the first bad store.
func VerifyAll(ctx context.Context, log *FileLog, registry *schema.Registry) (*StoreReport, error) {
	chains, err := log.Chains(ctx)
	if err != nil {
		return nil, err
	}

	report := &StoreReport{}
	for _, key := range chains {
		messageID, runID := key[0], key[1]
		events, err := log.Chain(ctx, messageID, runID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("(%s,%s): %v", messageID, runID, err))
			continue
		}
		report.ChainsChecked++
		if len(events) == 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("(%s,%s): empty chain file", messageID, runID))
			continue
		}
		if registry != nil {
			for i, e := range events {
				if err := registry.Validate(e.SchemaID, e); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("(%s,%s)[%d]: %v", messageID, runID, i, err))
				}
			}
		}
		chainReport := VerifyEvents(events)
		report.EventsChecked += chainReport.EventsChecked
		if !chainReport.OK() {
			report.Errors = append(report.Errors,
				fmt.Sprintf("(%s,%s)[%d]: %s", messageID, runID, chainReport.BrokenIndex, chainReport.Reason))
		}
	}
	return report, nil
}
