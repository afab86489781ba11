package canonical

import (
	"fmt"
)

// SystemID names this system inside canonical decision inputs.
const SystemID = "ire"

// SpecSemver is the contract version stamped into decision inputs and
// schema URNs. Bump only with a migration note.
const SpecSemver = "1.0.0"

// Schema URNs for every persisted artifact contract.
const (
	SchemaNormalizedMessage = "urn:ieim:schema:normalized-message:1.0.0"
	SchemaAttachment        = "urn:ieim:schema:attachment:1.0.0"
	SchemaIdentityResult    = "urn:ieim:schema:identity-resolution-result:1.0.0"
	SchemaClassification    = "urn:ieim:schema:classification-result:1.0.0"
	SchemaExtraction        = "urn:ieim:schema:extraction-result:1.0.0"
	SchemaRoutingDecision   = "urn:ieim:schema:routing-decision:1.0.0"
	SchemaAuditEvent        = "urn:ieim:schema:audit-event:1.0.0"
	SchemaCorrectionRecord  = "urn:ieim:schema:correction-record:1.0.0"
	SchemaLLMInference      = "urn:ieim:schema:llm-inference:1.0.0"
	SchemaRequestInfoDraft  = "urn:ieim:schema:request-info-draft:1.0.0"
)

// SchemaIDs lists every registered artifact contract.
var SchemaIDs = []string{
	SchemaNormalizedMessage, SchemaAttachment, SchemaIdentityResult,
	SchemaClassification, SchemaExtraction, SchemaRoutingDecision,
	SchemaAuditEvent, SchemaCorrectionRecord, SchemaLLMInference,
	SchemaRequestInfoDraft,
}

var (
	intentSet   = toSet(Intents)
	productSet  = toSet(ProductLines)
	urgencySet  = toSet(Urgencies)
	slaSet      = toSet(SLAs)
	riskSet     = toSet(RiskFlags)
	queueSet    = toSet(Queues)
	actionSet   = toSet(Actions)
	stageSet    = toSet(Stages)
	statusSet   = toSet(IdentityStatuses)
	entTypeSet  = toSet(ExtractedEntityTypes)
	entitySet   = toSet(EntityTypes)
	jobStateSet = toSet(JobStates)
)

func toSet[T ~string](vals []T) map[T]bool {
	m := make(map[T]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func ValidStage(v string) bool          { return stageSet[Stage(v)] }
func ValidIdentityStatus(v string) bool { return statusSet[IdentityStatus(v)] }
func ValidIntent(v string) bool         { return intentSet[Intent(v)] }
func ValidProductLine(v string) bool    { return productSet[ProductLine(v)] }
func ValidUrgency(v string) bool        { return urgencySet[Urgency(v)] }
func ValidSLA(v string) bool            { return slaSet[SLA(v)] }
func ValidRiskFlag(v string) bool       { return riskSet[RiskFlag(v)] }
func ValidQueue(v string) bool          { return queueSet[Queue(v)] }
func ValidAction(v string) bool         { return actionSet[Action(v)] }
func ValidEntityType(v string) bool     { return entitySet[EntityType(v)] }
func ValidJobState(v string) bool       { return jobStateSet[JobState(v)] }

func ValidExtractedEntityType(v string) bool { return entTypeSet[ExtractedEntityType(v)] }

// Verify cross-checks the registry against itself: closed set sizes, no
// duplicates, and the priority/override tables drawing only from canonical
// values. Any drift is an integrity failure that must stop the process,
// never be reconciled at runtime.
func Verify() error {
	if err := distinct("intents", Intents, 13); err != nil {
		return err
	}
	if err := distinct("product_lines", ProductLines, 11); err != nil {
		return err
	}
	if err := distinct("urgencies", Urgencies, 4); err != nil {
		return err
	}
	if err := distinct("slas", SLAs, 4); err != nil {
		return err
	}
	if err := distinct("risk_flags", RiskFlags, 10); err != nil {
		return err
	}
	if err := distinct("queues", Queues, 18); err != nil {
		return err
	}
	if err := distinct("actions", Actions, 6); err != nil {
		return err
	}
	if err := distinct("stages", Stages, 10); err != nil {
		return err
	}
	if err := distinct("identity_statuses", IdentityStatuses, 4); err != nil {
		return err
	}

	if len(IntentPriority) != len(Intents) {
		return fmt.Errorf("registry: intent priority lists %d of %d intents", len(IntentPriority), len(Intents))
	}
	seen := map[Intent]bool{}
	for _, in := range IntentPriority {
		if !intentSet[in] {
			return fmt.Errorf("registry: intent priority contains non-canonical %q", in)
		}
		if seen[in] {
			return fmt.Errorf("registry: intent priority repeats %q", in)
		}
		seen[in] = true
	}

	overrideSeen := map[RiskFlag]bool{}
	for _, ov := range RiskOverrides {
		if !riskSet[ov.Flag] {
			return fmt.Errorf("registry: risk override references non-canonical flag %q", ov.Flag)
		}
		if overrideSeen[ov.Flag] {
			return fmt.Errorf("registry: duplicate risk override for %q", ov.Flag)
		}
		overrideSeen[ov.Flag] = true
		if !queueSet[ov.Queue] {
			return fmt.Errorf("registry: risk override %q targets non-canonical queue %q", ov.Flag, ov.Queue)
		}
		if !slaSet[ov.SLA] {
			return fmt.Errorf("registry: risk override %q carries non-canonical sla %q", ov.Flag, ov.SLA)
		}
		for _, a := range ov.Actions {
			if !actionSet[a] {
				return fmt.Errorf("registry: risk override %q carries non-canonical action %q", ov.Flag, a)
			}
		}
	}

	for _, s := range Stages {
		if q := ReviewQueueForStage(s); !queueSet[q] {
			return fmt.Errorf("registry: review queue for %q is non-canonical %q", s, q)
		}
	}
	return nil
}

func distinct[T ~string](name string, vals []T, want int) error {
	if len(vals) != want {
		return fmt.Errorf("registry: %s has %d entries, want %d", name, len(vals), want)
	}
	seen := make(map[T]bool, len(vals))
	for _, v := range vals {
		if v == "" {
			return fmt.Errorf("registry: %s contains empty value", name)
		}
		if seen[v] {
			return fmt.Errorf("registry: %s contains duplicate %q", name, v)
		}
		seen[v] = true
	}
	return nil
}
