// Package caseadapter applies a routing decision's actions against the
// case management boundary. Every outbound call carries a timestamp-free
// idempotency key so redelivered jobs cannot create duplicate cases or
// attachments.
package caseadapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// Artifact kinds attached to a case.
const (
	KindRawMIME    = "RAW_MIME"
	KindAttachment = "ATTACHMENT"
)

// Artifact is one attachable reference.
type Artifact struct {
	URI          string `json:"uri"`
	SHA256       string `json:"sha256"`
	Kind         string `json:"kind"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Draft is an outbound draft message added to a case.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Adapter is the case system boundary. Implementations must honor the
// idempotency key: a repeated call with the same key is a no-op that
// returns the original outcome.
type Adapter interface {
	CreateOrUpdate(ctx context.Context, idempotencyKey, queueID, title string) (caseID string, err error)
	Attach(ctx context.Context, idempotencyKey, caseID string, artifact Artifact) error
	AddDraft(ctx context.Context, idempotencyKey, caseID string, draft Draft) error
}

// IdempotencyKey derives the stable per-operation key from the routing
// context. No clocks, no run ids.
func IdempotencyKey(messageFingerprint, ruleID, ruleVersion, operation string) string {
	sum := sha256.Sum256([]byte(messageFingerprint + "|" + ruleID + "|" + ruleVersion + "|" + operation))
	return "idem:" + hex.EncodeToString(sum[:])
}

// CaseRecord is the fixture's view of one case.
type CaseRecord struct {
	CaseID    string
	QueueID   string
	Title     string
	Artifacts []Artifact
	Drafts    []Draft
}

// Fixture is an idempotent in-memory adapter for tests and the
// single-message CLI path.
type Fixture struct {
	mu      sync.Mutex
	byKey   map[string]string
	applied map[string]bool
	cases   map[string]*CaseRecord
}

func NewFixture() *Fixture {
	return &Fixture{
		byKey:   make(map[string]string),
		applied: make(map[string]bool),
		cases:   make(map[string]*CaseRecord),
	}
}

// Case returns a copy of the record, or nil.
func (f *Fixture) Case(caseID string) *CaseRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return nil
	}
	copied := *c
	copied.Artifacts = append([]Artifact(nil), c.Artifacts...)
	copied.Drafts = append([]Draft(nil), c.Drafts...)
	return &copied
}

// Cases reports how many cases exist.
func (f *Fixture) Cases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cases)
}

func (f *Fixture) CreateOrUpdate(_ context.Context, idempotencyKey, queueID, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[idempotencyKey]; ok {
		return existing, nil
	}
	caseID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("case:"+idempotencyKey)).String()
	f.cases[caseID] = &CaseRecord{CaseID: caseID, QueueID: queueID, Title: title}
	f.byKey[idempotencyKey] = caseID
	return caseID, nil
}

func (f *Fixture) Attach(_ context.Context, idempotencyKey, caseID string, artifact Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied[idempotencyKey] {
		return nil
	}
	f.applied[idempotencyKey] = true
	if c, ok := f.cases[caseID]; ok {
		c.Artifacts = append(c.Artifacts, artifact)
	}
	return nil
}

func (f *Fixture) AddDraft(_ context.Context, idempotencyKey, caseID string, draft Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied[idempotencyKey] {
		return nil
	}
	f.applied[idempotencyKey] = true
	if c, ok := f.cases[caseID]; ok {
		c.Drafts = append(c.Drafts, draft)
	}
	return nil
}
