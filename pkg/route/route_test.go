package route_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/route"
)

func snapshot() *config.Snapshot {
	return &config.Snapshot{
		Pack: config.PackConfig{SystemID: "ire", CanonicalSpecSemver: "1.0.0"},
		Incident: config.IncidentConfig{
			ForceReviewQueueID: canonical.QueueIntakeReviewGeneral,
		},
	}
}

func message() *normalize.Message {
	return &normalize.Message{
		MessageID:     "m-1",
		RunID:         "r-1",
		Fingerprint:   "sha256:" + strings.Repeat("a", 64),
		RawMIMESHA256: "sha256:" + strings.Repeat("b", 64),
	}
}

func ruleset(t *testing.T) *route.Ruleset {
	t.Helper()
	rs, err := route.LoadRuleset("../../config/routing_rules.yaml")
	require.NoError(t, err)
	return rs
}

func evaluator(t *testing.T) *route.Evaluator {
	t.Helper()
	return &route.Evaluator{Snapshot: snapshot(), Ruleset: ruleset(t)}
}

func confirmedClaim() route.Context {
	return route.Context{
		IdentityStatus: canonical.IdentityConfirmed,
		PrimaryIntent:  canonical.IntentClaimNew,
		ProductLine:    canonical.ProdAuto,
		Urgency:        canonical.UrgHigh,
		HasIdentifier:  true,
	}
}

func TestClaimsAutoHappyPath(t *testing.T) {
	d, err := evaluator(t).Evaluate(message(), confirmedClaim())
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueClaimsAuto, d.QueueID)
	assert.Equal(t, canonical.SLA4H, d.SLAID)
	assert.Equal(t, "R_CLAIMS_AUTO", d.RuleID)
	assert.Equal(t, []canonical.Action{
		canonical.ActionCreateCase,
		canonical.ActionAttachOriginalEmail,
		canonical.ActionAttachAllFiles,
	}, d.Actions)
	assert.False(t, d.FailClosed)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, d.DecisionHash)
}

func TestMalwareOverrideBeatsEverything(t *testing.T) {
	ctx := confirmedClaim()
	ctx.RiskFlags = []canonical.RiskFlag{canonical.RiskSecurityMalware}
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueSecurityReview, d.QueueID)
	assert.Equal(t, canonical.SLA1H, d.SLAID)
	assert.Contains(t, d.Actions, canonical.ActionBlockCaseCreate)
	assert.NotContains(t, d.Actions, canonical.ActionCreateCase)
}

func TestRiskOverrideOrderIsCanonical(t *testing.T) {
	ctx := confirmedClaim()
	ctx.RiskFlags = []canonical.RiskFlag{canonical.RiskLegalThreat, canonical.RiskRegulatory}
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	// Regulatory precedes legal threat in the override table.
	assert.Equal(t, canonical.QueueComplaints, d.QueueID)
}

func TestSelfHarmEscalates(t *testing.T) {
	ctx := confirmedClaim()
	ctx.RiskFlags = []canonical.RiskFlag{canonical.RiskSelfHarmThreat}
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueIntakeReviewGeneral, d.QueueID)
	require.NotNil(t, d.EscalationNote)
	assert.Equal(t, "HUMAN_ESCALATION", *d.EscalationNote)
}

func TestGDPRRoutesToPrivacy(t *testing.T) {
	ctx := confirmedClaim()
	ctx.PrimaryIntent = canonical.IntentGDPRRequest
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.QueuePrivacyDSR, d.QueueID)
}

func TestIdentityReviewModifier(t *testing.T) {
	ctx := confirmedClaim()
	ctx.IdentityStatus = canonical.IdentityNeedsReview
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueIdentityReview, d.QueueID)
	assert.Contains(t, d.Actions, canonical.ActionAddRequestInfoDraft)
	assert.NotContains(t, d.Actions, canonical.ActionCreateCase)
}

func TestUnknownProductNeedsIdentifier(t *testing.T) {
	ctx := confirmedClaim()
	ctx.ProductLine = canonical.ProdUnknown
	ctx.HasIdentifier = false
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)
	assert.Equal(t, canonical.QueueUnknownProductReview, d.QueueID)

	ctx.HasIdentifier = true
	d, err = evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)
	assert.Equal(t, canonical.QueueClaimsGeneral, d.QueueID, "identifier resolves product via table")
}

func TestStageFailClosedRoutesToStageReviewQueue(t *testing.T) {
	ctx := confirmedClaim()
	ctx.FailClosedStage = canonical.StageClassify
	ctx.FailClosedReason = "determinism_cache_miss"
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueClassificationReview, d.QueueID)
	assert.True(t, d.FailClosed)
	require.NotNil(t, d.FailClosedReason)
	assert.Equal(t, "determinism_cache_miss", *d.FailClosedReason)
}

func TestFallbackFailsClosed(t *testing.T) {
	rs, err := route.ParseRuleset("inline.yaml", []byte(`
ruleset_version: "1.0.0"
rules: []
fallback:
  queue_id: QUEUE_INTAKE_REVIEW_GENERAL
  sla_id: SLA_1BD
  priority: 0
  actions: [ATTACH_ORIGINAL_EMAIL]
`))
	require.NoError(t, err)

	e := &route.Evaluator{Snapshot: snapshot(), Ruleset: rs}
	d, err := e.Evaluate(message(), confirmedClaim())
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueIntakeReviewGeneral, d.QueueID)
	assert.Equal(t, "ROUTE_FALLBACK", d.RuleID)
	assert.True(t, d.FailClosed)
	require.NotNil(t, d.FailClosedReason)
	assert.Equal(t, "no_rule_match", *d.FailClosedReason)
}

func TestIncidentForceReview(t *testing.T) {
	snap := snapshot()
	snap.Incident.ForceReview = true
	e := &route.Evaluator{Snapshot: snap, Ruleset: ruleset(t)}
	d, err := e.Evaluate(message(), confirmedClaim())
	require.NoError(t, err)

	assert.Equal(t, canonical.QueueIntakeReviewGeneral, d.QueueID)
	assert.Equal(t, "INCIDENT_FORCE_REVIEW", d.RuleID)
	assert.True(t, d.FailClosed)
	assert.NotContains(t, d.Actions, canonical.ActionCreateCase)
}

func TestIncidentBlockCaseCreate(t *testing.T) {
	snap := snapshot()
	snap.Incident.BlockCaseCreateRiskFlagsAny = []canonical.RiskFlag{canonical.RiskPhishingSuspect}
	e := &route.Evaluator{Snapshot: snap, Ruleset: ruleset(t)}

	ctx := confirmedClaim()
	ctx.RiskFlags = []canonical.RiskFlag{canonical.RiskPhishingSuspect}
	d, err := e.Evaluate(message(), ctx)
	require.NoError(t, err)

	assert.Equal(t, canonical.ActionBlockCaseCreate, d.Actions[0])
	assert.NotContains(t, d.Actions, canonical.ActionCreateCase)
	assert.True(t, d.FailClosed)
}

func TestCELGuardSelectsUrgentClaims(t *testing.T) {
	ctx := confirmedClaim()
	ctx.ProductLine = canonical.ProdTravel
	ctx.Urgency = canonical.UrgCritical
	d, err := evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)
	assert.Equal(t, "R_CLAIMS_URGENT_GENERAL", d.RuleID)
	assert.Equal(t, canonical.SLA4H, d.SLAID)

	ctx.Urgency = canonical.UrgNormal
	d, err = evaluator(t).Evaluate(message(), ctx)
	require.NoError(t, err)
	assert.Equal(t, "R_CLAIMS_GENERAL", d.RuleID)
	assert.Equal(t, canonical.SLA1BD, d.SLAID)
}

func TestDecisionHashIgnoresRunID(t *testing.T) {
	e := evaluator(t)
	m1, m2 := message(), message()
	m2.RunID = "r-replay"

	d1, err := e.Evaluate(m1, confirmedClaim())
	require.NoError(t, err)
	d2, err := e.Evaluate(m2, confirmedClaim())
	require.NoError(t, err)
	assert.Equal(t, d1.DecisionHash, d2.DecisionHash)
}

func TestRulesetRejectsNonCanonicalLabels(t *testing.T) {
	_, err := route.ParseRuleset("inline.yaml", []byte(`
ruleset_version: "1.0.0"
rules:
  - rule_id: R_BAD
    priority: 10
    when:
      primary_intent_in: [INTENT_NOT_A_THING]
    then:
      queue_id: QUEUE_BILLING
      sla_id: SLA_1BD
      priority: 10
      actions: [CREATE_CASE]
fallback:
  queue_id: QUEUE_INTAKE_REVIEW_GENERAL
  sla_id: SLA_1BD
  priority: 0
  actions: [ATTACH_ORIGINAL_EMAIL]
`))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRulesetRejectsBadVersion(t *testing.T) {
	_, err := route.ParseRuleset("inline.yaml", []byte(`
ruleset_version: "not-semver"
rules: []
fallback:
  queue_id: QUEUE_INTAKE_REVIEW_GENERAL
  sla_id: SLA_1BD
  priority: 0
  actions: [ATTACH_ORIGINAL_EMAIL]
`))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRulesetRejectsDuplicateRuleIDs(t *testing.T) {
	_, err := route.ParseRuleset("inline.yaml", []byte(`
ruleset_version: "1.0.0"
rules:
  - rule_id: R_ONE
    priority: 10
    then:
      queue_id: QUEUE_BILLING
      sla_id: SLA_1BD
      priority: 10
      actions: [CREATE_CASE]
  - rule_id: R_ONE
    priority: 5
    then:
      queue_id: QUEUE_BILLING
      sla_id: SLA_1BD
      priority: 5
      actions: [CREATE_CASE]
fallback:
  queue_id: QUEUE_INTAKE_REVIEW_GENERAL
  sla_id: SLA_1BD
  priority: 0
  actions: [ATTACH_ORIGINAL_EMAIL]
`))
	require.Error(t, err)
}
