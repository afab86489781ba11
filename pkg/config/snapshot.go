package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// Pipeline modes.
const (
	ModeBaseline = "BASELINE"
	ModeLLMFirst = "LLM_FIRST"
)

// IBAN store modes.
const (
	IBANStoreRedacted = "REDACTED"
	IBANStoreHashOnly = "HASH_ONLY"
)

// Signal strength classes.
const (
	StrengthHard   = "HARD"
	StrengthMedium = "MEDIUM"
	StrengthSoft   = "SOFT"
)

// Ref pins a configuration snapshot inside decision inputs and audit
// events. SHA256 is computed over the effective snapshot (file merged
// with environment overrides), so two processes that resolve to
// different effective values never share a ref.
type Ref struct {
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// Snapshot is the immutable per-process configuration. It is loaded
// once at start and pinned per run; a reload produces a new Snapshot
// with a new ref that in-flight runs never observe.
type Snapshot struct {
	Pack       PackConfig       `yaml:"pack" json:"pack"`
	Runtime    RuntimeConfig    `yaml:"runtime" json:"runtime"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Incident   IncidentConfig   `yaml:"incident" json:"incident"`
	Identity   IdentityConfig   `yaml:"identity" json:"identity"`
	Classify   ClassifyConfig   `yaml:"classification" json:"classification"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Timeouts   TimeoutConfig    `yaml:"timeouts" json:"timeouts"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Retention  RetentionConfig  `yaml:"retention" json:"retention"`

	ref Ref
}

// PackConfig identifies the decision pack this process runs under.
type PackConfig struct {
	SystemID            string `yaml:"system_id" json:"system_id"`
	CanonicalSpecSemver string `yaml:"canonical_spec_semver" json:"canonical_spec_semver"`
}

// RuntimeConfig holds execution-wide switches.
type RuntimeConfig struct {
	DeterminismMode    bool     `yaml:"determinism_mode" json:"determinism_mode"`
	SupportedLanguages []string `yaml:"supported_languages" json:"supported_languages"`
}

// PipelineConfig selects the classification strategy.
type PipelineConfig struct {
	Mode string `yaml:"mode" json:"mode"` // BASELINE | LLM_FIRST
}

// IncidentConfig holds the operational gates consulted on every stage
// entry. All four are overridable via environment for incident response.
type IncidentConfig struct {
	ForceReview                 bool                 `yaml:"force_review" json:"force_review"`
	ForceReviewQueueID          canonical.Queue      `yaml:"force_review_queue_id" json:"force_review_queue_id"`
	DisableLLM                  bool                 `yaml:"disable_llm" json:"disable_llm"`
	BlockCaseCreateRiskFlagsAny []canonical.RiskFlag `yaml:"block_case_create_risk_flags_any" json:"block_case_create_risk_flags_any"`
}

// IdentityThresholds separate CONFIRMED / PROBABLE / NEEDS_REVIEW.
type IdentityThresholds struct {
	ConfirmedMinScore  float64 `yaml:"confirmed_min_score" json:"confirmed_min_score"`
	ConfirmedMinMargin float64 `yaml:"confirmed_min_margin" json:"confirmed_min_margin"`
	ProbableMinScore   float64 `yaml:"probable_min_score" json:"probable_min_score"`
	ProbableMinMargin  float64 `yaml:"probable_min_margin" json:"probable_min_margin"`
}

// SignalSpec weights one identity signal.
type SignalSpec struct {
	Weight   float64 `yaml:"weight" json:"weight"`
	Strength string  `yaml:"strength" json:"strength"` // HARD | MEDIUM | SOFT
}

// StrengthFactor maps the strength class to its score multiplier.
func (s SignalSpec) StrengthFactor() float64 {
	switch s.Strength {
	case StrengthHard:
		return 1.0
	case StrengthMedium:
		return 0.7
	case StrengthSoft:
		return 0.3
	}
	return 0
}

// ScoreTransform maps the weighted signal sum onto [0,1].
type ScoreTransform struct {
	Intercept float64 `yaml:"intercept" json:"intercept"`
	Slope     float64 `yaml:"slope" json:"slope"`
}

// IdentityConfig parameterizes the identity resolver.
type IdentityConfig struct {
	Thresholds           IdentityThresholds    `yaml:"thresholds" json:"thresholds"`
	Signals              map[string]SignalSpec `yaml:"signals" json:"signals"`
	ScoreTransform       ScoreTransform        `yaml:"score_transform" json:"score_transform"`
	TopK                 int                   `yaml:"top_k" json:"top_k"`
	SharedMailboxPenalty float64               `yaml:"shared_mailbox_penalty" json:"shared_mailbox_penalty"`
	FuzzyMatchThreshold  float64               `yaml:"fuzzy_match_threshold" json:"fuzzy_match_threshold"`
}

// AcceptanceThresholds gate model output per field. A model result
// below any applicable threshold falls back to the keyword baseline.
type AcceptanceThresholds struct {
	PrimaryIntent float64 `yaml:"primary_intent" json:"primary_intent"`
	ProductLine   float64 `yaml:"product_line" json:"product_line"`
	Urgency       float64 `yaml:"urgency" json:"urgency"`
	RiskFlag      float64 `yaml:"risk_flag" json:"risk_flag"`
}

// LLMConfig pins the model identity used for cached inference.
type LLMConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	Provider       string            `yaml:"provider" json:"provider"`
	ModelName      string            `yaml:"model_name" json:"model_name"`
	ModelVersion   string            `yaml:"model_version" json:"model_version"`
	PromptVersions map[string]string `yaml:"prompt_versions" json:"prompt_versions"`
	TokenBudgets   map[string]int    `yaml:"token_budgets" json:"token_budgets"`
	MaxCallsPerDay int               `yaml:"max_calls_per_day" json:"max_calls_per_day"`
}

// ClassifyConfig parameterizes the classifier.
type ClassifyConfig struct {
	MinConfidenceForAuto float64              `yaml:"min_confidence_for_auto" json:"min_confidence_for_auto"`
	RulesVersion         string               `yaml:"rules_version" json:"rules_version"`
	Acceptance           AcceptanceThresholds `yaml:"acceptance" json:"acceptance"`
	DisagreementMin      float64              `yaml:"disagreement_min" json:"disagreement_min"`
	MaxModelAttempts     int                  `yaml:"max_model_attempts" json:"max_model_attempts"`
	LLM                  LLMConfig            `yaml:"llm" json:"llm"`
}

// IBANPolicy controls how bank account identifiers are persisted.
type IBANPolicy struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	StoreMode string `yaml:"store_mode" json:"store_mode"` // REDACTED | HASH_ONLY
}

// ExtractionConfig parameterizes the extractor.
type ExtractionConfig struct {
	IBANPolicy IBANPolicy `yaml:"iban_policy" json:"iban_policy"`
}

// RoutingConfig locates the routing ruleset.
type RoutingConfig struct {
	RulesetPath    string `yaml:"ruleset_path" json:"ruleset_path"`
	RulesetVersion string `yaml:"ruleset_version" json:"ruleset_version"`
}

// TimeoutConfig holds per-call deadlines for external collaborators.
type TimeoutConfig struct {
	Directory   Duration `yaml:"directory" json:"directory"`
	LLM         Duration `yaml:"llm" json:"llm"`
	CaseAdapter Duration `yaml:"case_adapter" json:"case_adapter"`
}

// RetryConfig bounds transport-stage retries. Decision stages never
// retry; they fail closed.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff" json:"max_backoff"`
}

// RetentionConfig bounds how long raw material and audit chains live.
type RetentionConfig struct {
	RawMessageDays int `yaml:"raw_message_days" json:"raw_message_days"`
	AuditLogDays   int `yaml:"audit_log_days" json:"audit_log_days"`
}

// Ref returns the pinned {path, sha256} pair for this snapshot.
func (s *Snapshot) Ref() Ref { return s.ref }

// LLMAllowed reports whether model calls may be attempted at all under
// this snapshot. Determinism mode still permits cache resolution; the
// provider boundary enforces that separately.
func (s *Snapshot) LLMAllowed() bool {
	return s.Classify.LLM.Enabled && !s.Incident.DisableLLM
}

// BlocksCaseCreate reports whether any of the run's risk flags matches
// the incident block list.
func (s *Snapshot) BlocksCaseCreate(flags []canonical.RiskFlag) bool {
	for _, blocked := range s.Incident.BlockCaseCreateRiskFlagsAny {
		for _, f := range flags {
			if f == blocked {
				return true
			}
		}
	}
	return false
}

// LanguageSupported reports whether lang is in the configured set.
func (s *Snapshot) LanguageSupported(lang string) bool {
	for _, l := range s.Runtime.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// LoadSnapshot reads, overrides, validates, and pins a snapshot. The
// stored path is the path as given, so callers should pass a stable
// repo-relative path rather than an absolute one.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "", "config_unreadable", err)
	}
	return ParseSnapshot(path, data)
}

// ParseSnapshot builds a snapshot from raw YAML bytes. Unknown keys are
// rejected so a typo cannot silently disable a gate.
func ParseSnapshot(path string, data []byte) (*Snapshot, error) {
	var snap Snapshot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil {
		return nil, fault.Wrap(fault.KindValidation, "", "config_parse_failed", err)
	}

	snap.applyDefaults()
	snap.applyEnv()
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	canon, err := canonicalize.JCS(&snap)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "", "config_not_canonicalizable", err)
	}
	snap.ref = Ref{Path: path, SHA256: canonicalize.Digest(canon)}
	return &snap, nil
}

func (s *Snapshot) applyDefaults() {
	if s.Pipeline.Mode == "" {
		s.Pipeline.Mode = ModeBaseline
	}
	if s.Incident.ForceReviewQueueID == "" {
		s.Incident.ForceReviewQueueID = canonical.QueueIntakeReviewGeneral
	}
	if s.Incident.BlockCaseCreateRiskFlagsAny == nil {
		s.Incident.BlockCaseCreateRiskFlagsAny = []canonical.RiskFlag{}
	}
	if s.Classify.Acceptance == (AcceptanceThresholds{}) {
		s.Classify.Acceptance = AcceptanceThresholds{
			PrimaryIntent: 0.72,
			ProductLine:   0.65,
			Urgency:       0.60,
			RiskFlag:      0.80,
		}
	}
	if s.Classify.DisagreementMin == 0 {
		s.Classify.DisagreementMin = 0.85
	}
	if s.Classify.MaxModelAttempts == 0 {
		s.Classify.MaxModelAttempts = 2
	}
	if s.Identity.TopK == 0 {
		s.Identity.TopK = 3
	}
	if s.Identity.FuzzyMatchThreshold == 0 {
		s.Identity.FuzzyMatchThreshold = 0.82
	}
	if s.Timeouts.Directory == 0 {
		s.Timeouts.Directory = Duration(2 * time.Second)
	}
	if s.Timeouts.LLM == 0 {
		s.Timeouts.LLM = Duration(20 * time.Second)
	}
	if s.Timeouts.CaseAdapter == 0 {
		s.Timeouts.CaseAdapter = Duration(10 * time.Second)
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 5
	}
	if s.Retry.BaseBackoff == 0 {
		s.Retry.BaseBackoff = Duration(500 * time.Millisecond)
	}
	if s.Retry.MaxBackoff == 0 {
		s.Retry.MaxBackoff = Duration(30 * time.Second)
	}
	if s.Retention.RawMessageDays == 0 {
		s.Retention.RawMessageDays = 90
	}
	if s.Retention.AuditLogDays == 0 {
		s.Retention.AuditLogDays = 365
	}
}

// applyEnv layers the incident-response overrides on top of the file.
// Values arriving here are still subject to Validate.
func (s *Snapshot) applyEnv() {
	if v, ok := lookupBool("IRE_FORCE_REVIEW"); ok {
		s.Incident.ForceReview = v
	}
	if v := os.Getenv("IRE_FORCE_REVIEW_QUEUE"); v != "" {
		s.Incident.ForceReviewQueueID = canonical.Queue(v)
	}
	if v, ok := lookupBool("IRE_DISABLE_LLM"); ok {
		s.Incident.DisableLLM = v
	}
	if v := os.Getenv("IRE_BLOCK_CASE_CREATE_RISKS"); v != "" {
		flags := make([]canonical.RiskFlag, 0, 4)
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				flags = append(flags, canonical.RiskFlag(part))
			}
		}
		s.Incident.BlockCaseCreateRiskFlagsAny = flags
	}
	if v, ok := lookupBool("IRE_DETERMINISM_MODE"); ok {
		s.Runtime.DeterminismMode = v
	}
	if v := os.Getenv("IRE_PIPELINE_MODE"); v != "" {
		s.Pipeline.Mode = v
	}
}

func lookupBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

// Validate rejects any snapshot that could produce an unroutable or
// non-reproducible decision.
func (s *Snapshot) Validate() error {
	bad := func(reason string, err error) error {
		if err == nil {
			return fault.New(fault.KindValidation, "", reason)
		}
		return fault.Wrap(fault.KindValidation, "", reason, err)
	}

	if s.Pack.SystemID == "" {
		return bad("config_missing_system_id", nil)
	}
	if _, err := semver.StrictNewVersion(s.Pack.CanonicalSpecSemver); err != nil {
		return bad("config_bad_spec_semver", err)
	}
	if s.Pipeline.Mode != ModeBaseline && s.Pipeline.Mode != ModeLLMFirst {
		return bad("config_bad_pipeline_mode", fmt.Errorf("mode %q", s.Pipeline.Mode))
	}
	if len(s.Runtime.SupportedLanguages) == 0 {
		return bad("config_no_supported_languages", nil)
	}

	if !canonical.ValidQueue(string(s.Incident.ForceReviewQueueID)) {
		return bad("config_unknown_queue", fmt.Errorf("queue %q", s.Incident.ForceReviewQueueID))
	}
	for _, f := range s.Incident.BlockCaseCreateRiskFlagsAny {
		if !canonical.ValidRiskFlag(string(f)) {
			return bad("config_unknown_risk_flag", fmt.Errorf("risk flag %q", f))
		}
	}

	th := s.Identity.Thresholds
	for _, v := range []float64{th.ConfirmedMinScore, th.ConfirmedMinMargin, th.ProbableMinScore, th.ProbableMinMargin} {
		if v < 0 || v > 1 {
			return bad("config_threshold_out_of_range", fmt.Errorf("identity thresholds %+v", th))
		}
	}
	if th.ProbableMinScore > th.ConfirmedMinScore {
		return bad("config_threshold_inverted", fmt.Errorf("probable %v above confirmed %v", th.ProbableMinScore, th.ConfirmedMinScore))
	}
	if len(s.Identity.Signals) == 0 {
		return bad("config_no_identity_signals", nil)
	}
	for name, sig := range s.Identity.Signals {
		if sig.Weight < 0 {
			return bad("config_negative_signal_weight", fmt.Errorf("signal %q", name))
		}
		if sig.StrengthFactor() == 0 {
			return bad("config_unknown_signal_strength", fmt.Errorf("signal %q strength %q", name, sig.Strength))
		}
	}
	if s.Identity.TopK < 1 {
		return bad("config_bad_top_k", fmt.Errorf("top_k %d", s.Identity.TopK))
	}
	if s.Identity.SharedMailboxPenalty < 0 {
		return bad("config_negative_penalty", nil)
	}

	if s.Classify.MinConfidenceForAuto <= 0 || s.Classify.MinConfidenceForAuto > 1 {
		return bad("config_bad_min_confidence", fmt.Errorf("min_confidence_for_auto %v", s.Classify.MinConfidenceForAuto))
	}
	if _, err := semver.StrictNewVersion(s.Classify.RulesVersion); err != nil {
		return bad("config_bad_rules_version", err)
	}
	for _, v := range []float64{
		s.Classify.Acceptance.PrimaryIntent, s.Classify.Acceptance.ProductLine,
		s.Classify.Acceptance.Urgency, s.Classify.Acceptance.RiskFlag,
		s.Classify.DisagreementMin,
	} {
		if v <= 0 || v > 1 {
			return bad("config_threshold_out_of_range", fmt.Errorf("classification thresholds"))
		}
	}
	if s.Classify.MaxModelAttempts < 1 {
		return bad("config_bad_max_attempts", nil)
	}
	if s.Classify.LLM.Enabled {
		if s.Classify.LLM.Provider == "" || s.Classify.LLM.ModelName == "" || s.Classify.LLM.ModelVersion == "" {
			return bad("config_incomplete_llm", nil)
		}
		if len(s.Classify.LLM.PromptVersions) == 0 {
			return bad("config_no_prompt_versions", nil)
		}
	}

	if s.Extraction.IBANPolicy.Enabled {
		switch s.Extraction.IBANPolicy.StoreMode {
		case IBANStoreRedacted, IBANStoreHashOnly:
		default:
			return bad("config_bad_iban_store_mode", fmt.Errorf("store_mode %q", s.Extraction.IBANPolicy.StoreMode))
		}
	}

	if s.Routing.RulesetPath == "" {
		return bad("config_missing_ruleset_path", nil)
	}
	if _, err := semver.StrictNewVersion(s.Routing.RulesetVersion); err != nil {
		return bad("config_bad_ruleset_version", err)
	}

	for _, d := range []Duration{s.Timeouts.Directory, s.Timeouts.LLM, s.Timeouts.CaseAdapter} {
		if d <= 0 {
			return bad("config_bad_timeout", nil)
		}
	}
	if s.Retry.MaxAttempts < 1 || s.Retry.BaseBackoff <= 0 || s.Retry.MaxBackoff < s.Retry.BaseBackoff {
		return bad("config_bad_retry", nil)
	}
	if s.Retention.RawMessageDays < 1 || s.Retention.AuditLogDays < 1 {
		return bad("config_bad_retention", nil)
	}
	return nil
}
