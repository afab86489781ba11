// Package directory answers existence and status questions about
// policies, claims and customers. Lookups are read-only; when the
// backing system is down the caller must degrade to review, never
// guess.
package directory

import (
	"context"

	"github.com/intake-labs/ire/pkg/canonical"
)

// Status of a directory entity.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Entry is one directory record.
type Entry struct {
	EntityType canonical.EntityType
	EntityID   string
	Status     Status
	// CustomerID links policies and claims back to their holder.
	// Empty for customer entries.
	CustomerID string
}

// Adapter is the lookup boundary. A miss is (nil, nil); an error means
// the directory could not answer and the caller must fail closed.
type Adapter interface {
	LookupPolicy(ctx context.Context, policyNumber string) (*Entry, error)
	LookupClaim(ctx context.Context, claimNumber string) (*Entry, error)
	LookupCustomer(ctx context.Context, customerID string) (*Entry, error)
}

// Lookup dispatches on entity type.
func Lookup(ctx context.Context, a Adapter, entityType canonical.EntityType, id string) (*Entry, error) {
	switch entityType {
	case canonical.EntityPolicy:
		return a.LookupPolicy(ctx, id)
	case canonical.EntityClaim:
		return a.LookupClaim(ctx, id)
	case canonical.EntityCustomer:
		return a.LookupCustomer(ctx, id)
	}
	return nil, nil
}
