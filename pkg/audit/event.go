// Package audit implements the append-only event log. Events chain per
// (message_id, run_id): each event carries the hash of its predecessor
// and a hash over its own body, so any mutation or reorder is
// detectable after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/fault"
)

// GenesisHash is the prev_event_hash of the first event in a chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Event types beyond plain stage completion.
const (
	TypeStageCompleted    = "STAGE_COMPLETED"
	TypeStageFailedClosed = "STAGE_FAILED_CLOSED"
	TypeCorrection        = "CORRECTION_APPLIED"
	TypeReplay            = "REPLAY_VERIFIED"
)

// Event is one link in an audit chain.
type Event struct {
	SchemaID      string              `json:"schema_id"`
	EventID       string              `json:"event_id"`
	MessageID     string              `json:"message_id"`
	RunID         string              `json:"run_id"`
	Stage         canonical.Stage     `json:"stage"`
	EventType     string              `json:"event_type,omitempty"`
	OccurredAt    string              `json:"occurred_at"`
	InputRef      *artifact.Ref       `json:"input_ref"`
	OutputRef     *artifact.Ref       `json:"output_ref"`
	DecisionHash  *string             `json:"decision_hash"`
	ConfigRef     config.Ref          `json:"config_ref"`
	RulesRef      *artifact.RulesRef  `json:"rules_ref"`
	ModelRef      *string             `json:"model_ref"`
	PromptRef     *string             `json:"prompt_ref"`
	Evidence      []artifact.Evidence `json:"evidence,omitempty"`
	Payload       map[string]any      `json:"payload,omitempty"`
	PrevEventHash string              `json:"prev_event_hash"`
	EventHash     string              `json:"event_hash"`
}

// Draft carries the caller-supplied parts of an event. The log assigns
// event_id, prev_event_hash and event_hash on append.
type Draft struct {
	MessageID    string
	RunID        string
	Stage        canonical.Stage
	EventType    string
	OccurredAt   time.Time
	InputRef     *artifact.Ref
	OutputRef    *artifact.Ref
	DecisionHash string
	ConfigRef    config.Ref
	RulesRef     *artifact.RulesRef
	ModelRef     string
	PromptRef    string
	Evidence     []artifact.Evidence
	Payload      map[string]any
}

// NewEvent materializes a draft. The event id is a name-based UUID over
// (message_id, run_id, stage, output sha), so retried appends of the
// same output produce the same id.
func NewEvent(d Draft) (*Event, error) {
	if d.MessageID == "" || d.RunID == "" {
		return nil, fault.New(fault.KindValidation, d.Stage, "audit_event_missing_chain_key")
	}
	if !canonical.ValidStage(string(d.Stage)) {
		return nil, fault.New(fault.KindValidation, d.Stage, "audit_event_unknown_stage")
	}

	outputSHA := ""
	if d.OutputRef != nil {
		outputSHA = d.OutputRef.SHA256
	}
	name := fmt.Sprintf("audit:%s:%s:%s:%s", d.MessageID, d.RunID, d.Stage, outputSHA)

	e := &Event{
		SchemaID:   canonical.SchemaAuditEvent,
		EventID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
		MessageID:  d.MessageID,
		RunID:      d.RunID,
		Stage:      d.Stage,
		EventType:  d.EventType,
		OccurredAt: FormatTime(d.OccurredAt),
		InputRef:   d.InputRef,
		OutputRef:  d.OutputRef,
		ConfigRef:  d.ConfigRef,
		RulesRef:   d.RulesRef,
		Evidence:   d.Evidence,
		Payload:    d.Payload,
	}
	if d.DecisionHash != "" {
		e.DecisionHash = &d.DecisionHash
	}
	if d.ModelRef != "" {
		e.ModelRef = &d.ModelRef
	}
	if d.PromptRef != "" {
		e.PromptRef = &d.PromptRef
	}
	return e, nil
}

// FormatTime renders a timestamp the way every artifact stores one:
// UTC, RFC 3339, second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// HashEvent computes the hash over the event body with event_hash
// excluded. prev_event_hash is part of the body, which is what chains
// the events.
func HashEvent(e *Event) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, e.Stage, "audit_event_not_serializable", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fault.Wrap(fault.KindInternal, e.Stage, "audit_event_not_serializable", err)
	}
	delete(body, "event_hash")
	sum, err := canonicalize.CanonicalHash(body)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, e.Stage, "audit_event_not_canonicalizable", err)
	}
	return sum, nil
}

// Seal links the event to prev and stamps its own hash.
func (e *Event) Seal(prevHash string) error {
	if prevHash == "" {
		prevHash = GenesisHash
	}
	e.PrevEventHash = prevHash
	sum, err := HashEvent(e)
	if err != nil {
		return err
	}
	e.EventHash = sum
	return nil
}
