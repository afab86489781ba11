// Package canonical is the single authoritative vocabulary for the intake
// pipeline: stages, labels, queues, actions and schema URNs. Every stage
// output is validated against these sets on write; a value outside them is
// a schema-validation failure and the producing stage fails closed.
package canonical

// Stage identifies a pipeline stage.
type Stage string

const (
	StageIngest      Stage = "INGEST"
	StageNormalize   Stage = "NORMALIZE"
	StageAttachments Stage = "ATTACHMENTS"
	StageIdentity    Stage = "IDENTITY"
	StageClassify    Stage = "CLASSIFY"
	StageExtract     Stage = "EXTRACT"
	StageRoute       Stage = "ROUTE"
	StageCase        Stage = "CASE"
	StageHITL        Stage = "HITL"
	StageReprocess   Stage = "REPROCESS"
)

// Stages in pipeline execution order. HITL and REPROCESS are out-of-band.
var Stages = []Stage{
	StageIngest, StageNormalize, StageAttachments, StageIdentity,
	StageClassify, StageExtract, StageRoute, StageCase,
	StageHITL, StageReprocess,
}

// IdentityStatus is the outcome grade of identity resolution.
type IdentityStatus string

const (
	IdentityConfirmed   IdentityStatus = "IDENTITY_CONFIRMED"
	IdentityProbable    IdentityStatus = "IDENTITY_PROBABLE"
	IdentityNeedsReview IdentityStatus = "IDENTITY_NEEDS_REVIEW"
	IdentityNoCandidate IdentityStatus = "IDENTITY_NO_CANDIDATE"
)

var IdentityStatuses = []IdentityStatus{
	IdentityConfirmed, IdentityProbable, IdentityNeedsReview, IdentityNoCandidate,
}

// EntityType enumerates directory entity kinds for identity candidates.
type EntityType string

const (
	EntityCustomer EntityType = "CUSTOMER"
	EntityPolicy   EntityType = "POLICY"
	EntityClaim    EntityType = "CLAIM"
	EntityContact  EntityType = "CONTACT"
	EntityBroker   EntityType = "BROKER"
)

var EntityTypes = []EntityType{
	EntityCustomer, EntityPolicy, EntityClaim, EntityContact, EntityBroker,
}

// Intent labels. The declaration order below is NOT the priority order;
// see IntentPriority.
type Intent string

const (
	IntentGDPRRequest        Intent = "INTENT_GDPR_REQUEST"
	IntentLegal              Intent = "INTENT_LEGAL"
	IntentComplaint          Intent = "INTENT_COMPLAINT"
	IntentClaimNew           Intent = "INTENT_CLAIM_NEW"
	IntentClaimUpdate        Intent = "INTENT_CLAIM_UPDATE"
	IntentPolicyCancellation Intent = "INTENT_POLICY_CANCELLATION"
	IntentPolicyChange       Intent = "INTENT_POLICY_CHANGE"
	IntentBillingQuestion    Intent = "INTENT_BILLING_QUESTION"
	IntentDocumentSubmission Intent = "INTENT_DOCUMENT_SUBMISSION"
	IntentCoverageQuestion   Intent = "INTENT_COVERAGE_QUESTION"
	IntentBrokerIntermediary Intent = "INTENT_BROKER_INTERMEDIARY"
	IntentTechnical          Intent = "INTENT_TECHNICAL"
	IntentGeneralInquiry     Intent = "INTENT_GENERAL_INQUIRY"
)

var Intents = []Intent{
	IntentGDPRRequest, IntentLegal, IntentComplaint, IntentClaimNew,
	IntentClaimUpdate, IntentPolicyCancellation, IntentPolicyChange,
	IntentBillingQuestion, IntentDocumentSubmission, IntentCoverageQuestion,
	IntentBrokerIntermediary, IntentTechnical, IntentGeneralInquiry,
}

// ProductLine labels.
type ProductLine string

const (
	ProdAuto          ProductLine = "PROD_AUTO"
	ProdProperty      ProductLine = "PROD_PROPERTY"
	ProdHousehold     ProductLine = "PROD_HOUSEHOLD"
	ProdLiability     ProductLine = "PROD_LIABILITY"
	ProdLegalExpenses ProductLine = "PROD_LEGAL_EXPENSES"
	ProdAccident      ProductLine = "PROD_ACCIDENT"
	ProdLife          ProductLine = "PROD_LIFE"
	ProdHealth        ProductLine = "PROD_HEALTH"
	ProdTravel        ProductLine = "PROD_TRAVEL"
	ProdCommercial    ProductLine = "PROD_COMMERCIAL"
	ProdUnknown       ProductLine = "PROD_UNKNOWN"
)

var ProductLines = []ProductLine{
	ProdAuto, ProdProperty, ProdHousehold, ProdLiability, ProdLegalExpenses,
	ProdAccident, ProdLife, ProdHealth, ProdTravel, ProdCommercial, ProdUnknown,
}

// Urgency labels.
type Urgency string

const (
	UrgLow      Urgency = "URG_LOW"
	UrgNormal   Urgency = "URG_NORMAL"
	UrgHigh     Urgency = "URG_HIGH"
	UrgCritical Urgency = "URG_CRITICAL"
)

var Urgencies = []Urgency{UrgLow, UrgNormal, UrgHigh, UrgCritical}

// SLA identifiers.
type SLA string

const (
	SLA1H  SLA = "SLA_1H"
	SLA4H  SLA = "SLA_4H"
	SLA1BD SLA = "SLA_1BD"
	SLA3BD SLA = "SLA_3BD"
)

var SLAs = []SLA{SLA1H, SLA4H, SLA1BD, SLA3BD}

// RiskFlag labels.
type RiskFlag string

const (
	RiskSecurityMalware     RiskFlag = "RISK_SECURITY_MALWARE"
	RiskLegalThreat         RiskFlag = "RISK_LEGAL_THREAT"
	RiskRegulatory          RiskFlag = "RISK_REGULATORY"
	RiskFraudSignal         RiskFlag = "RISK_FRAUD_SIGNAL"
	RiskSelfHarmThreat      RiskFlag = "RISK_SELF_HARM_THREAT"
	RiskAutoreplyLoop       RiskFlag = "RISK_AUTOREPLY_LOOP"
	RiskLanguageUnsupported RiskFlag = "RISK_LANGUAGE_UNSUPPORTED"
	RiskPrivacySensitive    RiskFlag = "RISK_PRIVACY_SENSITIVE"
	RiskPhishingSuspect     RiskFlag = "RISK_PHISHING_SUSPECT"
	RiskSpamBulk            RiskFlag = "RISK_SPAM_BULK"
)

var RiskFlags = []RiskFlag{
	RiskSecurityMalware, RiskLegalThreat, RiskRegulatory, RiskFraudSignal,
	RiskSelfHarmThreat, RiskAutoreplyLoop, RiskLanguageUnsupported,
	RiskPrivacySensitive, RiskPhishingSuspect, RiskSpamBulk,
}

// Queue identifiers.
type Queue string

const (
	QueueClaimsAuto              Queue = "QUEUE_CLAIMS_AUTO"
	QueueClaimsProperty          Queue = "QUEUE_CLAIMS_PROPERTY"
	QueueClaimsGeneral           Queue = "QUEUE_CLAIMS_GENERAL"
	QueuePolicyService           Queue = "QUEUE_POLICY_SERVICE"
	QueueBilling                 Queue = "QUEUE_BILLING"
	QueueComplaints              Queue = "QUEUE_COMPLAINTS"
	QueueLegal                   Queue = "QUEUE_LEGAL"
	QueueFraud                   Queue = "QUEUE_FRAUD"
	QueuePrivacyDSR              Queue = "QUEUE_PRIVACY_DSR"
	QueueSecurityReview          Queue = "QUEUE_SECURITY_REVIEW"
	QueueIdentityReview          Queue = "QUEUE_IDENTITY_REVIEW"
	QueueClassificationReview    Queue = "QUEUE_CLASSIFICATION_REVIEW"
	QueueUnknownProductReview    Queue = "QUEUE_UNKNOWN_PRODUCT_REVIEW"
	QueueIntakeReviewGeneral     Queue = "QUEUE_INTAKE_REVIEW_GENERAL"
	QueueCaseCreateFailureReview Queue = "QUEUE_CASE_CREATE_FAILURE_REVIEW"
	QueueBrokerDesk              Queue = "QUEUE_BROKER_DESK"
	QueueDocumentIndexing        Queue = "QUEUE_DOCUMENT_INDEXING"
	QueueTechnicalSupport        Queue = "QUEUE_TECHNICAL_SUPPORT"
)

var Queues = []Queue{
	QueueClaimsAuto, QueueClaimsProperty, QueueClaimsGeneral,
	QueuePolicyService, QueueBilling, QueueComplaints, QueueLegal,
	QueueFraud, QueuePrivacyDSR, QueueSecurityReview, QueueIdentityReview,
	QueueClassificationReview, QueueUnknownProductReview,
	QueueIntakeReviewGeneral, QueueCaseCreateFailureReview, QueueBrokerDesk,
	QueueDocumentIndexing, QueueTechnicalSupport,
}

// Action identifiers attached to routing decisions.
type Action string

const (
	ActionCreateCase          Action = "CREATE_CASE"
	ActionAttachOriginalEmail Action = "ATTACH_ORIGINAL_EMAIL"
	ActionAttachAllFiles      Action = "ATTACH_ALL_FILES"
	ActionAddRequestInfoDraft Action = "ADD_REQUEST_INFO_DRAFT"
	ActionAddReplyDraft       Action = "ADD_REPLY_DRAFT"
	ActionBlockCaseCreate     Action = "BLOCK_CASE_CREATE"
)

var Actions = []Action{
	ActionCreateCase, ActionAttachOriginalEmail, ActionAttachAllFiles,
	ActionAddRequestInfoDraft, ActionAddReplyDraft, ActionBlockCaseCreate,
}

// ExtractedEntityType enumerates entity kinds the extractor may emit.
type ExtractedEntityType string

const (
	EntPolicyNumber   ExtractedEntityType = "ENT_POLICY_NUMBER"
	EntClaimNumber    ExtractedEntityType = "ENT_CLAIM_NUMBER"
	EntCustomerNumber ExtractedEntityType = "ENT_CUSTOMER_NUMBER"
	EntIBAN           ExtractedEntityType = "ENT_IBAN"
	EntDate           ExtractedEntityType = "ENT_DATE"
	EntLocation       ExtractedEntityType = "ENT_LOCATION"
	EntDocumentType   ExtractedEntityType = "ENT_DOCUMENT_TYPE"
)

var ExtractedEntityTypes = []ExtractedEntityType{
	EntPolicyNumber, EntClaimNumber, EntCustomerNumber, EntIBAN,
	EntDate, EntLocation, EntDocumentType,
}

// AVStatus grades an attachment scan outcome.
type AVStatus string

const (
	AVClean      AVStatus = "CLEAN"
	AVInfected   AVStatus = "INFECTED"
	AVSuspicious AVStatus = "SUSPICIOUS"
	AVFailed     AVStatus = "FAILED"
)

var AVStatuses = []AVStatus{AVClean, AVInfected, AVSuspicious, AVFailed}

// DirectoryStatus grades a directory record.
type DirectoryStatus string

const (
	DirectoryActive DirectoryStatus = "ACTIVE"
	DirectoryClosed DirectoryStatus = "CLOSED"
)

// JobState is the orchestrator state machine for one stage job.
type JobState string

const (
	JobPending      JobState = "PENDING"
	JobRunning      JobState = "RUNNING"
	JobDone         JobState = "DONE"
	JobFailedClosed JobState = "FAILED_CLOSED"
	JobDeadLettered JobState = "DEAD_LETTERED"
)

var JobStates = []JobState{JobPending, JobRunning, JobDone, JobFailedClosed, JobDeadLettered}
