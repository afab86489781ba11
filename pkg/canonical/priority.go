package canonical

// IntentPriority orders intents for primary-intent selection when multiple
// labels are accepted. Earlier wins.
var IntentPriority = []Intent{
	IntentGDPRRequest,
	IntentLegal,
	IntentComplaint,
	IntentClaimNew,
	IntentClaimUpdate,
	IntentPolicyCancellation,
	IntentPolicyChange,
	IntentBillingQuestion,
	IntentDocumentSubmission,
	IntentCoverageQuestion,
	IntentBrokerIntermediary,
	IntentTechnical,
	IntentGeneralInquiry,
}

// RiskOverride is one entry of the hard risk override table consulted by
// the routing evaluator before any product/intent rule.
type RiskOverride struct {
	Flag    RiskFlag
	Queue   Queue
	SLA     SLA
	Actions []Action
	// Escalate adds a human-escalation note on the decision.
	Escalate bool
}

// RiskOverrides in canonical application order. Earlier wins.
var RiskOverrides = []RiskOverride{
	{Flag: RiskSecurityMalware, Queue: QueueSecurityReview, SLA: SLA1H,
		Actions: []Action{ActionBlockCaseCreate, ActionAttachOriginalEmail}},
	{Flag: RiskRegulatory, Queue: QueueComplaints, SLA: SLA1H,
		Actions: []Action{ActionAttachOriginalEmail, ActionAttachAllFiles}},
	{Flag: RiskLegalThreat, Queue: QueueLegal, SLA: SLA1H,
		Actions: []Action{ActionAttachOriginalEmail, ActionAttachAllFiles}},
	{Flag: RiskFraudSignal, Queue: QueueFraud, SLA: SLA4H,
		Actions: []Action{ActionAttachOriginalEmail, ActionAttachAllFiles}},
	{Flag: RiskSelfHarmThreat, Queue: QueueIntakeReviewGeneral, SLA: SLA1H,
		Actions: []Action{ActionAttachOriginalEmail}, Escalate: true},
	{Flag: RiskLanguageUnsupported, Queue: QueueIntakeReviewGeneral, SLA: SLA1BD,
		Actions: []Action{ActionAttachOriginalEmail}},
}

// ReviewQueueForStage maps a failing stage to its fail-closed review queue.
func ReviewQueueForStage(s Stage) Queue {
	switch s {
	case StageIdentity:
		return QueueIdentityReview
	case StageClassify, StageExtract:
		return QueueClassificationReview
	case StageCase:
		return QueueCaseCreateFailureReview
	default:
		return QueueIntakeReviewGeneral
	}
}

// ClaimIntents are the intents for which claim candidates outrank policy
// candidates during identity tie-breaking.
var ClaimIntents = map[Intent]bool{
	IntentClaimNew:    true,
	IntentClaimUpdate: true,
}
