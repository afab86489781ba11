package directory

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Postgres looks entities up in the policy administration replica.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the replica connection and verifies it answers.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIdentity, "directory_open_failed", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIdentity, "directory_unreachable", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an already-open connection pool. The caller keeps
// ownership of the pool; Close closes it.
func NewPostgresDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) LookupPolicy(ctx context.Context, policyNumber string) (*Entry, error) {
	return p.query(ctx, canonical.EntityPolicy,
		`SELECT policy_number, status, customer_id FROM policies WHERE policy_number = $1`,
		policyNumber)
}

func (p *Postgres) LookupClaim(ctx context.Context, claimNumber string) (*Entry, error) {
	return p.query(ctx, canonical.EntityClaim,
		`SELECT claim_number, status, customer_id FROM claims WHERE claim_number = $1`,
		claimNumber)
}

func (p *Postgres) LookupCustomer(ctx context.Context, customerID string) (*Entry, error) {
	return p.query(ctx, canonical.EntityCustomer,
		`SELECT customer_id, status, '' FROM customers WHERE customer_id = $1`,
		customerID)
}

func (p *Postgres) query(ctx context.Context, entityType canonical.EntityType, q, id string) (*Entry, error) {
	var entry Entry
	var status string
	err := p.db.QueryRowContext(ctx, q, id).Scan(&entry.EntityID, &status, &entry.CustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIdentity, "directory_query_failed", err)
	}
	entry.EntityType = entityType
	entry.Status = Status(status)
	return &entry, nil
}
