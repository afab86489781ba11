// Package decision computes the timestamp-free decision_hash for the
// three decision stages. The canonical input is an explicit struct per
// stage so that nothing incidental (run ids, clocks, hostnames) can
// leak into the hash.
package decision

import (
	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/fault"
)

// Base carries the members shared by every canonical decision input.
type Base struct {
	SystemID            string          `json:"system_id"`
	CanonicalSpecSemver string          `json:"canonical_spec_semver"`
	Stage               canonical.Stage `json:"stage"`
	MessageFingerprint  string          `json:"message_fingerprint"`
	RawMIMESHA256       string          `json:"raw_mime_sha256"`
	ConfigRef           config.Ref      `json:"config_ref"`
	DeterminismMode     bool            `json:"determinism_mode"`
}

// CandidateInput is one ranked identity candidate inside the identity
// decision input. Evidence collapses to snippet hashes; the snippets
// themselves live on the stored artifact.
type CandidateInput struct {
	Rank            int           `json:"rank"`
	EntityType      string        `json:"entity_type"`
	EntityID        string        `json:"entity_id"`
	Score           float64       `json:"score"`
	Signals         []SignalInput `json:"signals"`
	EvidenceSHA256s []string      `json:"evidence_sha256s"`
}

// SignalInput is one weighted signal on a candidate.
type SignalInput struct {
	Name   string  `json:"name"`
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// SelectedInput identifies the winning candidate, when one exists.
type SelectedInput struct {
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Score      float64 `json:"score"`
}

// ThresholdsInput mirrors the status thresholds the decision ran under.
type ThresholdsInput struct {
	ConfirmScore   float64 `json:"confirm_score"`
	ConfirmMargin  float64 `json:"confirm_margin"`
	ProbableScore  float64 `json:"probable_score"`
	ProbableMargin float64 `json:"probable_margin"`
}

// IdentityInput is the canonical decision input of the IDENTITY stage.
type IdentityInput struct {
	Base
	Status     canonical.IdentityStatus `json:"status"`
	Selected   *SelectedInput           `json:"selected"`
	TopK       []CandidateInput         `json:"top_k"`
	Thresholds ThresholdsInput          `json:"thresholds"`
}

// LLMInput pins the model identity a classification decision used, or
// records that no model ran.
type LLMInput struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	PromptSHA256 string `json:"prompt_sha256,omitempty"`
}

// LabelInput is one scored label with its evidence hashes.
type LabelInput struct {
	Label           string   `json:"label"`
	Confidence      float64  `json:"confidence"`
	EvidenceSHA256s []string `json:"evidence_sha256s"`
}

// ClassifyInput is the canonical decision input of the CLASSIFY stage.
type ClassifyInput struct {
	Base
	RulesVersion  string       `json:"rules_version"`
	LLM           LLMInput     `json:"llm"`
	PrimaryIntent string       `json:"primary_intent"`
	Intents       []LabelInput `json:"intents"`
	ProductLine   string       `json:"product_line"`
	Urgency       string       `json:"urgency"`
	RiskFlags     []LabelInput `json:"risk_flags"`
}

// SummaryInput is the routed outcome inside the route decision input.
type SummaryInput struct {
	QueueID          string   `json:"queue_id"`
	SLAID            string   `json:"sla_id"`
	Priority         int      `json:"priority"`
	Actions          []string `json:"actions"`
	RuleID           string   `json:"rule_id"`
	FailClosed       bool     `json:"fail_closed"`
	FailClosedReason string   `json:"fail_closed_reason,omitempty"`
}

// RouteInput is the canonical decision input of the ROUTE stage.
type RouteInput struct {
	Base
	RulesRef       artifact.RulesRef `json:"rules_ref"`
	IdentityStatus string            `json:"identity_status"`
	PrimaryIntent  string            `json:"primary_intent"`
	ProductLine    string            `json:"product_line"`
	Urgency        string            `json:"urgency"`
	RiskFlags      []string          `json:"risk_flags"`
	Decision       SummaryInput      `json:"decision"`
}

// Hash canonicalizes the input per RFC 8785 and hashes it, after
// checking that no excluded field name appears anywhere in the tree.
func Hash(input any) (string, error) {
	b, err := canonicalize.JCS(input)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "", "decision_input_not_canonicalizable", err)
	}
	if err := CheckExcluded(b); err != nil {
		return "", err
	}
	return canonicalize.Digest(b), nil
}
