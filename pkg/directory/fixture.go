package directory

import (
	"context"
	"sync"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Fixture is an in-memory directory for tests and local runs. Setting
// Down makes every lookup fail the way an unreachable replica would.
type Fixture struct {
	mu      sync.RWMutex
	entries map[canonical.EntityType]map[string]Entry
	down    bool
}

func NewFixture() *Fixture {
	return &Fixture{entries: make(map[canonical.EntityType]map[string]Entry)}
}

// Add registers an entry under its type and id.
func (f *Fixture) Add(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.entries[e.EntityType]
	if m == nil {
		m = make(map[string]Entry)
		f.entries[e.EntityType] = m
	}
	m[e.EntityID] = e
}

// SetDown toggles simulated unavailability.
func (f *Fixture) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *Fixture) LookupPolicy(ctx context.Context, id string) (*Entry, error) {
	return f.lookup(canonical.EntityPolicy, id)
}

func (f *Fixture) LookupClaim(ctx context.Context, id string) (*Entry, error) {
	return f.lookup(canonical.EntityClaim, id)
}

func (f *Fixture) LookupCustomer(ctx context.Context, id string) (*Entry, error) {
	return f.lookup(canonical.EntityCustomer, id)
}

func (f *Fixture) lookup(entityType canonical.EntityType, id string) (*Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.down {
		return nil, fault.New(fault.KindDependencyUnavailable, canonical.StageIdentity, "directory_unreachable")
	}
	if e, ok := f.entries[entityType][id]; ok {
		copied := e
		return &copied, nil
	}
	return nil, nil
}
