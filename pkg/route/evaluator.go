package route

import (
	"sort"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/decision"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
)

// Decision is the routing artifact.
type Decision struct {
	SchemaID         string             `json:"schema_id"`
	MessageID        string             `json:"message_id"`
	RunID            string             `json:"run_id"`
	QueueID          canonical.Queue    `json:"queue_id"`
	SLAID            canonical.SLA      `json:"sla_id"`
	Priority         int                `json:"priority"`
	Actions          []canonical.Action `json:"actions"`
	RuleID           string             `json:"rule_id"`
	RuleVersion      *string            `json:"rule_version,omitempty"`
	RulesetRef       artifact.RulesRef  `json:"ruleset_ref"`
	FailClosed       bool               `json:"fail_closed"`
	FailClosedReason *string            `json:"fail_closed_reason,omitempty"`
	EscalationNote   *string            `json:"escalation_note,omitempty"`
	DecisionHash     string             `json:"decision_hash"`
}

// Context is the routing input: upstream stage results condensed to
// what the evaluator may look at.
type Context struct {
	IdentityStatus canonical.IdentityStatus
	PrimaryIntent  canonical.Intent
	ProductLine    canonical.ProductLine
	Urgency        canonical.Urgency
	RiskFlags      []canonical.RiskFlag

	// HasIdentifier reports that an authoritative identifier (policy,
	// claim or customer number known to the directory) resolved.
	HasIdentifier bool

	// FailClosedStage carries an upstream fail-closed outcome into
	// routing; the reason travels onto the decision.
	FailClosedStage  canonical.Stage
	FailClosedReason string
}

// Fixed priorities of the hard ladder, above any sane table rule.
const (
	priorityIncident       = 1000
	priorityRiskOverride   = 950
	priorityStageFailure   = 900
	priorityPrivacy        = 800
	priorityIdentityReview = 700
	priorityUnknownProduct = 600
)

// Evaluator runs the ROUTE stage.
type Evaluator struct {
	Snapshot *config.Snapshot
	Ruleset  *Ruleset
}

func (ctx *Context) hasFlag(flag canonical.RiskFlag) bool {
	for _, f := range ctx.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// claimOrPolicyIntent reports intents whose product must be resolvable
// before a case lands in a product queue.
func claimOrPolicyIntent(in canonical.Intent) bool {
	switch in {
	case canonical.IntentClaimNew, canonical.IntentClaimUpdate,
		canonical.IntentPolicyCancellation, canonical.IntentPolicyChange:
		return true
	}
	return false
}

// Evaluate applies the ladder: incident gate, risk overrides, upstream
// fail-closed, privacy, identity review, unknown product, then the
// table, then the fallback. The block-case-create incident gate runs
// on whatever came out.
func (e *Evaluator) Evaluate(msg *normalize.Message, ctx Context) (*Decision, error) {
	d := &Decision{
		SchemaID:   canonical.SchemaRoutingDecision,
		MessageID:  msg.MessageID,
		RunID:      msg.RunID,
		RulesetRef: e.Ruleset.Ref,
	}
	version := e.Ruleset.Ref.Version
	d.RuleVersion = &version

	e.resolve(d, ctx)
	e.applyBlockCaseCreate(d, ctx)

	if err := e.seal(msg, d, ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Evaluator) resolve(d *Decision, ctx Context) {
	if e.Snapshot.Incident.ForceReview {
		d.QueueID = e.Snapshot.Incident.ForceReviewQueueID
		d.SLAID = canonical.SLA4H
		d.Priority = priorityIncident
		d.Actions = []canonical.Action{canonical.ActionAttachOriginalEmail}
		d.RuleID = "INCIDENT_FORCE_REVIEW"
		d.failClosed("incident_force_review")
		return
	}

	for _, ov := range canonical.RiskOverrides {
		if !ctx.hasFlag(ov.Flag) {
			continue
		}
		d.QueueID = ov.Queue
		d.SLAID = ov.SLA
		d.Priority = priorityRiskOverride
		d.Actions = append([]canonical.Action(nil), ov.Actions...)
		d.RuleID = "RISK_OVERRIDE_" + string(ov.Flag)
		if ov.Escalate {
			note := "HUMAN_ESCALATION"
			d.EscalationNote = &note
		}
		return
	}

	if ctx.FailClosedStage != "" {
		d.QueueID = canonical.ReviewQueueForStage(ctx.FailClosedStage)
		d.SLAID = canonical.SLA4H
		d.Priority = priorityStageFailure
		d.Actions = []canonical.Action{canonical.ActionAttachOriginalEmail}
		d.RuleID = "STAGE_FAIL_CLOSED_" + string(ctx.FailClosedStage)
		d.failClosed(ctx.FailClosedReason)
		return
	}

	if ctx.PrimaryIntent == canonical.IntentGDPRRequest {
		d.QueueID = canonical.QueuePrivacyDSR
		d.SLAID = canonical.SLA1H
		d.Priority = priorityPrivacy
		d.Actions = []canonical.Action{canonical.ActionCreateCase, canonical.ActionAttachOriginalEmail}
		d.RuleID = "PRIVACY_DSR"
		return
	}

	if ctx.IdentityStatus == canonical.IdentityNeedsReview || ctx.IdentityStatus == canonical.IdentityNoCandidate {
		d.QueueID = canonical.ReviewQueueForStage(canonical.StageIdentity)
		d.SLAID = canonical.SLA1BD
		d.Priority = priorityIdentityReview
		d.Actions = []canonical.Action{
			canonical.ActionAttachOriginalEmail,
			canonical.ActionAddRequestInfoDraft,
		}
		d.RuleID = "IDENTITY_REVIEW"
		return
	}

	if ctx.ProductLine == canonical.ProdUnknown && claimOrPolicyIntent(ctx.PrimaryIntent) && !ctx.HasIdentifier {
		d.QueueID = canonical.QueueUnknownProductReview
		d.SLAID = canonical.SLA1BD
		d.Priority = priorityUnknownProduct
		d.Actions = []canonical.Action{canonical.ActionAttachOriginalEmail}
		d.RuleID = "UNKNOWN_PRODUCT"
		return
	}

	for i := range e.Ruleset.Rules {
		r := &e.Ruleset.Rules[i]
		if matches(r, ctx) {
			d.QueueID = r.Then.QueueID
			d.SLAID = r.Then.SLAID
			d.Priority = r.Then.Priority
			d.Actions = append([]canonical.Action(nil), r.Then.Actions...)
			d.RuleID = r.RuleID
			if r.Then.FailClosed {
				d.failClosed(r.Then.FailClosedReason)
			}
			return
		}
	}

	f := e.Ruleset.Fallback
	d.QueueID = f.QueueID
	d.SLAID = f.SLAID
	d.Priority = f.Priority
	d.Actions = append([]canonical.Action(nil), f.Actions...)
	d.RuleID = "ROUTE_FALLBACK"
	d.failClosed("no_rule_match")
}

func (d *Decision) failClosed(reason string) {
	d.FailClosed = true
	d.FailClosedReason = &reason
}

func matches(r *Rule, ctx Context) bool {
	w := r.When
	if len(w.RiskFlagsAny) > 0 && !anyFlag(ctx.RiskFlags, w.RiskFlagsAny) {
		return false
	}
	if len(w.RiskFlagsNotAny) > 0 && anyFlag(ctx.RiskFlags, w.RiskFlagsNotAny) {
		return false
	}
	if len(w.PrimaryIntentIn) > 0 && !containsIn(w.PrimaryIntentIn, ctx.PrimaryIntent) {
		return false
	}
	if len(w.PrimaryIntentNotIn) > 0 && containsIn(w.PrimaryIntentNotIn, ctx.PrimaryIntent) {
		return false
	}
	if len(w.IdentityStatusIn) > 0 && !containsIn(w.IdentityStatusIn, ctx.IdentityStatus) {
		return false
	}
	if len(w.ProductLineIn) > 0 && !containsIn(w.ProductLineIn, ctx.ProductLine) {
		return false
	}
	if r.program != nil {
		flags := make([]string, 0, len(ctx.RiskFlags))
		for _, f := range ctx.RiskFlags {
			flags = append(flags, string(f))
		}
		out, _, err := r.program.Eval(map[string]any{
			"identity_status": string(ctx.IdentityStatus),
			"primary_intent":  string(ctx.PrimaryIntent),
			"product_line":    string(ctx.ProductLine),
			"urgency":         string(ctx.Urgency),
			"risk_flags":      flags,
		})
		if err != nil {
			return false
		}
		ok, isBool := out.Value().(bool)
		return isBool && ok
	}
	return true
}

func containsIn[T comparable](vals []T, v T) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func anyFlag(have []canonical.RiskFlag, want []canonical.RiskFlag) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// applyBlockCaseCreate enforces the incident block list: CREATE_CASE
// out, BLOCK_CASE_CREATE in front.
func (e *Evaluator) applyBlockCaseCreate(d *Decision, ctx Context) {
	if !e.Snapshot.BlocksCaseCreate(ctx.RiskFlags) {
		return
	}
	actions := make([]canonical.Action, 0, len(d.Actions)+1)
	actions = append(actions, canonical.ActionBlockCaseCreate)
	for _, a := range d.Actions {
		if a == canonical.ActionCreateCase || a == canonical.ActionBlockCaseCreate {
			continue
		}
		actions = append(actions, a)
	}
	d.Actions = actions
	if !d.FailClosed {
		d.failClosed("incident_block_case_create")
	}
}

func (e *Evaluator) seal(msg *normalize.Message, d *Decision, ctx Context) error {
	flags := make([]string, 0, len(ctx.RiskFlags))
	for _, f := range ctx.RiskFlags {
		flags = append(flags, string(f))
	}
	sort.Strings(flags)

	actions := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		actions = append(actions, string(a))
	}

	input := decision.RouteInput{
		Base: decision.Base{
			SystemID:            e.Snapshot.Pack.SystemID,
			CanonicalSpecSemver: e.Snapshot.Pack.CanonicalSpecSemver,
			Stage:               canonical.StageRoute,
			MessageFingerprint:  msg.Fingerprint,
			RawMIMESHA256:       msg.RawMIMESHA256,
			ConfigRef:           e.Snapshot.Ref(),
			DeterminismMode:     e.Snapshot.Runtime.DeterminismMode,
		},
		RulesRef:       d.RulesetRef,
		IdentityStatus: string(ctx.IdentityStatus),
		PrimaryIntent:  string(ctx.PrimaryIntent),
		ProductLine:    string(ctx.ProductLine),
		Urgency:        string(ctx.Urgency),
		RiskFlags:      flags,
		Decision: decision.SummaryInput{
			QueueID:    string(d.QueueID),
			SLAID:      string(d.SLAID),
			Priority:   d.Priority,
			Actions:    actions,
			RuleID:     d.RuleID,
			FailClosed: d.FailClosed,
		},
	}
	if d.FailClosedReason != nil {
		input.Decision.FailClosedReason = *d.FailClosedReason
	}

	hash, err := decision.Hash(input)
	if err != nil {
		return fault.Wrap(fault.KindInternal, canonical.StageRoute, "route_decision_hash", err)
	}
	d.DecisionHash = hash
	return nil
}
