package classify

import (
	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
)

// Label sources.
const (
	SourceRules   = "RULES"
	SourcePrescan = "PRESCAN"
	SourceLLM     = "LLM"
)

// Label is one scored classification label with its evidence.
type Label struct {
	Label      string              `json:"label"`
	Confidence float64             `json:"confidence"`
	Source     *string             `json:"source,omitempty"`
	Evidence   []artifact.Evidence `json:"evidence,omitempty"`
}

// Result is the classification artifact.
type Result struct {
	SchemaID          string              `json:"schema_id"`
	MessageID         string              `json:"message_id"`
	RunID             string              `json:"run_id"`
	Mode              string              `json:"mode"`
	Intents           []Label             `json:"intents"`
	PrimaryIntent     canonical.Intent    `json:"primary_intent"`
	ProductLine       canonical.ProductLine `json:"product_line"`
	ProductConfidence *float64            `json:"product_confidence,omitempty"`
	Urgency           canonical.Urgency   `json:"urgency"`
	UrgencyConfidence *float64            `json:"urgency_confidence,omitempty"`
	RiskFlags         []Label             `json:"risk_flags"`
	RulesVersion      string              `json:"rules_version"`
	ModelRef          *string             `json:"model_ref,omitempty"`
	PromptRef         *string             `json:"prompt_ref,omitempty"`
	LLMAccepted       bool                `json:"llm_accepted"`
	LLMRejectReason   *string             `json:"llm_reject_reason,omitempty"`
	FailClosed        bool                `json:"fail_closed"`
	FailClosedReason  *string             `json:"fail_closed_reason,omitempty"`
	DecisionHash      string              `json:"decision_hash"`
}

// RiskFlagSet returns the flag labels in canonical declaration order.
func (r *Result) RiskFlagSet() []canonical.RiskFlag {
	present := make(map[canonical.RiskFlag]bool, len(r.RiskFlags))
	for _, f := range r.RiskFlags {
		present[canonical.RiskFlag(f.Label)] = true
	}
	out := make([]canonical.RiskFlag, 0, len(present))
	for _, f := range canonical.RiskFlags {
		if present[f] {
			out = append(out, f)
		}
	}
	return out
}

// SelectPrimary picks the single primary intent from the accepted
// labels by canonical priority. Earlier in the priority list wins.
func SelectPrimary(intents []Label) canonical.Intent {
	rank := make(map[canonical.Intent]int, len(canonical.IntentPriority))
	for i, in := range canonical.IntentPriority {
		rank[in] = i
	}
	best := canonical.IntentGeneralInquiry
	bestRank := len(canonical.IntentPriority)
	for _, l := range intents {
		if r, ok := rank[canonical.Intent(l.Label)]; ok && r < bestRank {
			bestRank = r
			best = canonical.Intent(l.Label)
		}
	}
	return best
}
