package audit

import (
	"context"
	"sync"

	"github.com/intake-labs/ire/pkg/fault"
)

// Log is the append-only audit surface every stage writes through.
// Append seals the event onto its chain and persists it before
// returning; a returned nil means the event is durable.
type Log interface {
	Append(ctx context.Context, e *Event) error
	Chain(ctx context.Context, messageID, runID string) ([]Event, error)
	Verify(ctx context.Context, messageID, runID string) (*Report, error)
}

type chainKey struct {
	messageID string
	runID     string
}

// MemoryLog keeps chains in memory. It backs orchestrator tests and
// dry runs; production uses FileLog.
type MemoryLog struct {
	mu     sync.RWMutex
	chains map[chainKey][]Event
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{chains: make(map[chainKey][]Event)}
}

func (l *MemoryLog) Append(_ context.Context, e *Event) error {
	if e.MessageID == "" || e.RunID == "" {
		return fault.New(fault.KindValidation, e.Stage, "audit_event_missing_chain_key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := chainKey{e.MessageID, e.RunID}
	chain := l.chains[key]
	prev := ""
	if n := len(chain); n > 0 {
		prev = chain[n-1].EventHash
	}
	if err := e.Seal(prev); err != nil {
		return err
	}
	l.chains[key] = append(chain, *e)
	return nil
}

func (l *MemoryLog) Chain(_ context.Context, messageID, runID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := l.chains[chainKey{messageID, runID}]
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (l *MemoryLog) Verify(ctx context.Context, messageID, runID string) (*Report, error) {
	events, err := l.Chain(ctx, messageID, runID)
	if err != nil {
		return nil, err
	}
	return VerifyEvents(events), nil
}
