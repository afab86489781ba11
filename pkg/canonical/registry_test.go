package canonical

import (
	"testing"
)

func TestVerify(t *testing.T) {
	if err := Verify(); err != nil {
		t.Fatalf("registry drift: %v", err)
	}
}

func TestIntentPriority_GDPRFirstGeneralLast(t *testing.T) {
	if IntentPriority[0] != IntentGDPRRequest {
		t.Errorf("expected GDPR first, got %s", IntentPriority[0])
	}
	if IntentPriority[len(IntentPriority)-1] != IntentGeneralInquiry {
		t.Errorf("expected general inquiry last, got %s", IntentPriority[len(IntentPriority)-1])
	}
}

func TestRiskOverrides_CanonicalOrder(t *testing.T) {
	want := []RiskFlag{
		RiskSecurityMalware, RiskRegulatory, RiskLegalThreat,
		RiskFraudSignal, RiskSelfHarmThreat, RiskLanguageUnsupported,
	}
	if len(RiskOverrides) != len(want) {
		t.Fatalf("expected %d overrides, got %d", len(want), len(RiskOverrides))
	}
	for i, ov := range RiskOverrides {
		if ov.Flag != want[i] {
			t.Errorf("override %d: expected %s, got %s", i, want[i], ov.Flag)
		}
	}
}

func TestRiskOverrides_MalwareBlocksCaseCreate(t *testing.T) {
	ov := RiskOverrides[0]
	if ov.Queue != QueueSecurityReview || ov.SLA != SLA1H {
		t.Errorf("malware override routes to %s/%s", ov.Queue, ov.SLA)
	}
	var blocked bool
	for _, a := range ov.Actions {
		if a == ActionBlockCaseCreate {
			blocked = true
		}
		if a == ActionCreateCase {
			t.Error("malware override must not create a case")
		}
	}
	if !blocked {
		t.Error("malware override must include BLOCK_CASE_CREATE")
	}
}

func TestReviewQueueForStage(t *testing.T) {
	cases := map[Stage]Queue{
		StageIdentity:  QueueIdentityReview,
		StageClassify:  QueueClassificationReview,
		StageExtract:   QueueClassificationReview,
		StageCase:      QueueCaseCreateFailureReview,
		StageNormalize: QueueIntakeReviewGeneral,
		StageRoute:     QueueIntakeReviewGeneral,
	}
	for stage, queue := range cases {
		if got := ReviewQueueForStage(stage); got != queue {
			t.Errorf("stage %s: expected %s, got %s", stage, queue, got)
		}
	}
}

func TestValidators(t *testing.T) {
	if !ValidIntent("INTENT_CLAIM_NEW") || ValidIntent("INTENT_BOGUS") {
		t.Error("intent validation broken")
	}
	if !ValidQueue("QUEUE_PRIVACY_DSR") || ValidQueue("QUEUE_NOPE") {
		t.Error("queue validation broken")
	}
	if !ValidRiskFlag("RISK_SECURITY_MALWARE") || ValidRiskFlag("RISK_FLAGS") {
		t.Error("risk flag validation broken")
	}
	if !ValidAction("BLOCK_CASE_CREATE") || ValidAction("DELETE_CASE") {
		t.Error("action validation broken")
	}
}
