// Package extract pulls typed entities out of a normalized message.
// The deterministic pattern pass always runs; identifiers are checked
// against the directory and kept with directory_miss when unknown. In
// LLM_FIRST mode the model may propose additional entities, accepted
// only after pattern validation, evidence verification and the same
// directory check.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/identity"
	"github.com/intake-labs/ire/pkg/llm"
	"github.com/intake-labs/ire/pkg/normalize"
)

// Provenance sources.
const (
	SourceBody       = "BODY"
	SourceSubject    = "SUBJECT"
	SourceAttachment = "ATTACHMENT"
	SourceLLM        = "LLM"
)

// Entity store modes on the artifact. Sensitive values under the
// redacted policy carry no store mode at all: only the redacted form
// and the hash survive.
const (
	StorePlain    = "PLAIN"
	StoreHashOnly = "HASH_ONLY"
)

// Provenance locates an entity in its source text.
type Provenance struct {
	Source       string  `json:"source"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	AttachmentID *string `json:"attachment_id,omitempty"`
}

// Entity is one extracted value. Value holds the full value in memory
// for directory checks and identity consumption; it is never
// serialized.
type Entity struct {
	Type          canonical.ExtractedEntityType `json:"type"`
	ValueRedacted string                        `json:"value_redacted"`
	ValueSHA256   *string                       `json:"value_sha256,omitempty"`
	Confidence    float64                       `json:"confidence"`
	DirectoryMiss bool                          `json:"directory_miss,omitempty"`
	StoreMode     *string                       `json:"store_mode,omitempty"`
	Provenance    Provenance                    `json:"provenance"`

	Value string `json:"-"`
}

// Result is the extraction artifact.
type Result struct {
	SchemaID         string   `json:"schema_id"`
	MessageID        string   `json:"message_id"`
	RunID            string   `json:"run_id"`
	Entities         []Entity `json:"entities"`
	FailClosed       bool     `json:"fail_closed,omitempty"`
	FailClosedReason *string  `json:"fail_closed_reason,omitempty"`
}

// Extractor runs the EXTRACT stage.
type Extractor struct {
	Snapshot  *config.Snapshot
	Directory directory.Adapter
	LLM       *llm.Client
}

// Input is one extraction request. AttachmentTexts holds only text
// from CLEAN attachments, aligned with the Attachments slice by index
// of clean records.
type Input struct {
	Message         *normalize.Message
	Attachments     []attachments.Record
	AttachmentTexts []string
}

var (
	dateRE      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	locPrefixRE = regexp.MustCompile(`(?i)\bort:\s+([a-zäöüß-]{2,})\b`)
	locInRE     = regexp.MustCompile(`(?i)\bin\s+([a-zäöüß-]{2,})\b`)
)

func sha256Ptr(value string) *string {
	d := canonicalize.Digest([]byte(value))
	return &d
}

func plainEntity(t canonical.ExtractedEntityType, value string, confidence float64, prov Provenance) Entity {
	mode := StorePlain
	return Entity{
		Type:          t,
		Value:         value,
		ValueRedacted: value,
		ValueSHA256:   sha256Ptr(value),
		Confidence:    confidence,
		StoreMode:     &mode,
		Provenance:    prov,
	}
}

func provFromHit(h *identity.Hit) Provenance {
	source := SourceBody
	if h.Source == identity.SourceSubject {
		source = SourceSubject
	}
	return Provenance{Source: source, Start: h.Start, End: h.End}
}

// Extract produces the extraction artifact. Directory outage marks the
// result fail-closed; the pattern-valid entities are still emitted so
// review sees what was found.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	msg := in.Message
	subject, body := msg.SubjectC14N, msg.BodyTextC14N

	res := &Result{
		SchemaID:  canonical.SchemaExtraction,
		MessageID: msg.MessageID,
		RunID:     msg.RunID,
	}

	if h := identity.FindPolicyNumber(subject, body); h != nil {
		res.Entities = append(res.Entities, plainEntity(canonical.EntPolicyNumber, h.Value, 0.95, provFromHit(h)))
	}
	if h := identity.FindClaimNumber(subject, body); h != nil {
		res.Entities = append(res.Entities, plainEntity(canonical.EntClaimNumber, h.Value, 0.95, provFromHit(h)))
	}
	if h := identity.FindCustomerNumber(subject, body); h != nil {
		res.Entities = append(res.Entities, plainEntity(canonical.EntCustomerNumber, h.Value, 0.95, provFromHit(h)))
	}

	if loc := dateRE.FindStringIndex(body); loc != nil {
		res.Entities = append(res.Entities, plainEntity(canonical.EntDate, body[loc[0]:loc[1]], 0.90,
			Provenance{Source: SourceBody, Start: loc[0], End: loc[1]}))
	}
	if ent := findLocation(body); ent != nil {
		res.Entities = append(res.Entities, *ent)
	}
	if e.Snapshot.Extraction.IBANPolicy.Enabled {
		if ent := e.findIBAN(body); ent != nil {
			res.Entities = append(res.Entities, *ent)
		}
	}
	if ent := findDocumentType(in.Attachments); ent != nil {
		res.Entities = append(res.Entities, *ent)
	}

	if err := e.validateDirectory(ctx, res); err != nil {
		if fault.KindOf(err) == fault.KindDependencyUnavailable {
			res.failClosed(fault.ReasonOf(err))
			return res, nil
		}
		return nil, err
	}

	if e.Snapshot.Pipeline.Mode == config.ModeLLMFirst && e.Snapshot.LLMAllowed() && e.LLM != nil {
		if err := e.proposeEntities(ctx, in, res); err != nil {
			switch fault.KindOf(err) {
			case fault.KindDeterminismViolation:
				res.failClosed(fault.ReasonOf(err))
			case fault.KindDependencyUnavailable:
				// Model assist is optional here; the deterministic
				// entities stand on their own.
			default:
				return nil, err
			}
		}
	}
	return res, nil
}

func (r *Result) failClosed(reason string) {
	r.FailClosed = true
	r.FailClosedReason = &reason
}

// findLocation matches the "ort: <name>" marker first, then the looser
// "in <name>" phrase. Matching runs case-insensitively on the original
// text so the provenance offsets index into it directly; lowercasing a
// copy first would shift offsets wherever a rune folds to a different
// byte length.
func findLocation(body string) *Entity {
	if loc := locPrefixRE.FindStringSubmatchIndex(body); loc != nil {
		name := capitalize(strings.ToLower(body[loc[2]:loc[3]]))
		ent := plainEntity(canonical.EntLocation, name, 0.80,
			Provenance{Source: SourceBody, Start: loc[0], End: loc[1]})
		return &ent
	}
	if loc := locInRE.FindStringSubmatchIndex(body); loc != nil {
		name := capitalize(strings.ToLower(body[loc[2]:loc[3]]))
		ent := plainEntity(canonical.EntLocation, name, 0.80,
			Provenance{Source: SourceBody, Start: loc[2], End: loc[3]})
		return &ent
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// findDocumentType reports photo evidence when a clean image
// attachment is present. Gated attachments never contribute.
func findDocumentType(records []attachments.Record) *Entity {
	for _, r := range records {
		if !r.UsableForDecisions() || !strings.HasPrefix(r.MIMEType, "image/") {
			continue
		}
		id := r.AttachmentID
		ent := plainEntity(canonical.EntDocumentType, "DOC_PHOTO_EVIDENCE", 0.80,
			Provenance{Source: SourceAttachment, AttachmentID: &id})
		return &ent
	}
	return nil
}

// directoryEntityType maps extracted identifier types to directory
// entities. Non-identifier types return false.
func directoryEntityType(t canonical.ExtractedEntityType) (canonical.EntityType, bool) {
	switch t {
	case canonical.EntPolicyNumber:
		return canonical.EntityPolicy, true
	case canonical.EntClaimNumber:
		return canonical.EntityClaim, true
	case canonical.EntCustomerNumber:
		return canonical.EntityCustomer, true
	}
	return "", false
}

func (e *Extractor) validateDirectory(ctx context.Context, res *Result) error {
	if e.Directory == nil {
		return nil
	}
	for i := range res.Entities {
		entityType, ok := directoryEntityType(res.Entities[i].Type)
		if !ok {
			continue
		}
		entry, err := directory.Lookup(ctx, e.Directory, entityType, res.Entities[i].Value)
		if err != nil {
			return err
		}
		if entry == nil {
			res.Entities[i].DirectoryMiss = true
		}
	}
	return nil
}
