// Package classify labels a normalized message with intents, product
// line, urgency and risk flags. The deterministic keyword baseline
// always runs; in LLM_FIRST mode a model proposal is accepted only
// after every gate passes, and rejection degrades to review rather
// than to a guess.
package classify

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/decision"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/llm"
	"github.com/intake-labs/ire/pkg/normalize"
)

// Classifier runs the CLASSIFY stage.
type Classifier struct {
	Snapshot *config.Snapshot
	LLM      *llm.Client
}

// Input is one classification request. AttachmentTexts holds only text
// from CLEAN attachments, indexed as ATTACHMENT_TEXT:<i> for evidence.
type Input struct {
	Message         *normalize.Message
	Attachments     []attachments.Record
	AttachmentTexts []string
}

// Classify produces the classification artifact.
func (c *Classifier) Classify(ctx context.Context, in Input) (*Result, error) {
	msg := in.Message
	subject, body := msg.SubjectC14N, msg.BodyTextC14N

	risks := Prescan(subject, body, msg.Language, c.Snapshot.LanguageSupported, in.Attachments)

	baseIntents := BaselineIntents(subject, body, len(msg.AttachmentIDs) > 0)
	basePrimary := SelectPrimary(baseIntents)
	baseProduct := BaselineProduct(subject, body, basePrimary)
	baseUrgency := BaselineUrgency(subject, body, basePrimary, c.Snapshot.LanguageSupported(msg.Language))

	res := &Result{
		SchemaID:     canonical.SchemaClassification,
		MessageID:    msg.MessageID,
		RunID:        msg.RunID,
		Mode:         c.Snapshot.Pipeline.Mode,
		RulesVersion: c.Snapshot.Classify.RulesVersion,
		RiskFlags:    risks,
	}

	useBaseline := func() {
		res.Intents = baseIntents
		res.PrimaryIntent = basePrimary
		res.ProductLine = canonical.ProductLine(baseProduct.Label)
		res.ProductConfidence = &baseProduct.Confidence
		res.Urgency = canonical.Urgency(baseUrgency.Label)
		res.UrgencyConfidence = &baseUrgency.Confidence
	}

	if c.Snapshot.Pipeline.Mode == config.ModeLLMFirst && c.Snapshot.LLMAllowed() && c.LLM != nil {
		proposal, reject, err := c.propose(ctx, in)
		if err != nil {
			if fault.KindOf(err) == fault.KindDeterminismViolation {
				useBaseline()
				res.failClosed(fault.ReasonOf(err))
				return c.seal(msg, res)
			}
			if fault.KindOf(err) == fault.KindDependencyUnavailable {
				// Budget or provider down: the baseline still stands on
				// its own, no model provenance recorded.
				useBaseline()
				reason := "llm_unavailable"
				res.LLMRejectReason = &reason
				return c.seal(msg, res)
			}
			return nil, err
		}
		if reject != "" {
			useBaseline()
			res.LLMRejectReason = &reject
			res.failClosed("llm_rejected")
			return c.seal(msg, res)
		}

		gateReject := c.gate(proposal, baseIntents, subject, body, in.AttachmentTexts)
		if gateReject != "" {
			useBaseline()
			res.LLMRejectReason = &gateReject
			res.failClosed("llm_rejected")
			return c.seal(msg, res)
		}

		c.adopt(res, proposal, risks)
		return c.seal(msg, res)
	}

	useBaseline()
	return c.seal(msg, res)
}

func (r *Result) failClosed(reason string) {
	r.FailClosed = true
	r.FailClosedReason = &reason
}

// llmSpan is one evidence span as the model must emit it.
type llmSpan struct {
	Snippet       string `json:"snippet"`
	SnippetSHA256 string `json:"snippet_sha256"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	SourceRef     string `json:"source_ref"`
}

// llmLabel is one scored label in the model proposal.
type llmLabel struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Evidence   []llmSpan `json:"evidence"`
}

// llmProposal is the strict-JSON contract for the classify purpose.
type llmProposal struct {
	Intents     []llmLabel `json:"intents"`
	ProductLine llmLabel   `json:"product_line"`
	Urgency     llmLabel   `json:"urgency"`
	RiskFlags   []llmLabel `json:"risk_flags"`

	promptSHA256 string
	modelID      string
}

// propose runs the model with the bounded retry contract: primary
// prompt, then one repair prompt when JSON is invalid.
func (c *Classifier) propose(ctx context.Context, in Input) (*llmProposal, string, error) {
	cfg := c.Snapshot.Classify.LLM
	modelID := cfg.ModelName + "@" + cfg.ModelVersion

	prompt := c.buildPrompt(in)
	maxAttempts := c.Snapshot.Classify.MaxModelAttempts
	var lastParseErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		purpose := llm.PurposeClassify
		p := prompt
		if attempt > 1 {
			purpose = llm.PurposeRepair
			p = prompt + "\n\nThe previous response was not valid JSON (" +
				lastParseErr.Error() + "). Respond with only the JSON object."
		}
		resp, err := c.LLM.Complete(ctx, llm.Request{
			Purpose: purpose,
			ModelID: modelID,
			Prompt:  p,
			Input:   canonicalize.Digest([]byte(in.Message.Fingerprint)),
			Params:  llm.Params{MaxTokens: cfg.TokenBudgets["classify"]},
		})
		if err != nil {
			return nil, "", err
		}

		var proposal llmProposal
		if err := json.Unmarshal([]byte(resp.Content), &proposal); err != nil {
			lastParseErr = err
			continue
		}
		proposal.promptSHA256 = resp.PromptSHA256
		proposal.modelID = resp.ModelID
		return &proposal, "", nil
	}
	return nil, "invalid_json_after_retry", nil
}

func (c *Classifier) buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Classify the following insurance intake email.\n")
	b.WriteString("Respond with a single strict JSON object with keys intents, product_line, urgency, risk_flags.\n")
	b.WriteString("Allowed intents: ")
	for i, v := range canonical.Intents {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(v))
	}
	b.WriteString("\nAllowed product lines: ")
	for i, v := range canonical.ProductLines {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(v))
	}
	b.WriteString("\nAllowed urgencies: URG_LOW, URG_NORMAL, URG_HIGH, URG_CRITICAL\n")
	b.WriteString("Every label needs evidence spans verbatim from the given text with byte offsets.\n\n")
	b.WriteString("SUBJECT_C14N:\n" + in.Message.SubjectC14N + "\n\n")
	b.WriteString("BODY_C14N:\n" + in.Message.BodyTextC14N + "\n")
	for i, t := range in.AttachmentTexts {
		b.WriteString("\nATTACHMENT_TEXT:" + strconv.Itoa(i) + ":\n" + t + "\n")
	}
	return b.String()
}

// gate applies the acceptance gates. An empty return means accepted;
// otherwise the reject reason.
func (c *Classifier) gate(p *llmProposal, baseIntents []Label, subject, body string, attTexts []string) string {
	if len(p.Intents) == 0 {
		return "no_intents"
	}
	for _, l := range p.Intents {
		if !canonical.ValidIntent(l.Label) {
			return "unknown_intent_label"
		}
	}
	if !canonical.ValidProductLine(p.ProductLine.Label) {
		return "unknown_product_label"
	}
	if !canonical.ValidUrgency(p.Urgency.Label) {
		return "unknown_urgency_label"
	}
	for _, l := range p.RiskFlags {
		if !canonical.ValidRiskFlag(l.Label) {
			return "unknown_risk_label"
		}
	}

	acc := c.Snapshot.Classify.Acceptance
	primary := SelectPrimary(toLabels(p.Intents, SourceLLM))
	primaryConf := confidenceOf(p.Intents, string(primary))
	if primaryConf < acc.PrimaryIntent {
		return "primary_intent_below_threshold"
	}
	if p.ProductLine.Confidence < acc.ProductLine {
		return "product_line_below_threshold"
	}
	if p.Urgency.Confidence < acc.Urgency {
		return "urgency_below_threshold"
	}

	resolve := func(ref string) (string, bool) {
		switch {
		case ref == "SUBJECT_C14N":
			return subject, true
		case ref == "BODY_C14N":
			return body, true
		case strings.HasPrefix(ref, "ATTACHMENT_TEXT:"):
			i, err := strconv.Atoi(strings.TrimPrefix(ref, "ATTACHMENT_TEXT:"))
			if err != nil || i < 0 || i >= len(attTexts) {
				return "", false
			}
			return attTexts[i], true
		}
		return "", false
	}
	verified := func(spans []llmSpan) bool {
		for _, s := range spans {
			text, ok := resolve(s.SourceRef)
			if !ok {
				continue
			}
			if canonicalize.VerbatimAt(text, s.Snippet, s.Start, s.End) &&
				canonicalize.SnippetSHA256(s.Snippet) == s.SnippetSHA256 {
				return true
			}
		}
		return false
	}
	if !verified(evidenceOf(p.Intents, string(primary))) {
		return "primary_intent_evidence_unverified"
	}
	if !verified(p.ProductLine.Evidence) {
		return "product_line_evidence_unverified"
	}
	if !verified(p.Urgency.Evidence) {
		return "urgency_evidence_unverified"
	}

	// Disagreement gate: a confident deterministic rule asserting a
	// different primary intent overrules the model into review.
	for _, l := range baseIntents {
		if l.Confidence >= c.Snapshot.Classify.DisagreementMin &&
			canonical.Intent(l.Label) != primary {
			return "rules_disagree_" + strings.ToLower(l.Label)
		}
	}
	return ""
}

// adopt merges the accepted proposal into the result. Prescan flags
// stay; model risk flags above threshold are added.
func (c *Classifier) adopt(res *Result, p *llmProposal, prescanFlags []Label) {
	res.Intents = toLabels(p.Intents, SourceLLM)
	res.PrimaryIntent = SelectPrimary(res.Intents)
	res.ProductLine = canonical.ProductLine(p.ProductLine.Label)
	res.ProductConfidence = &p.ProductLine.Confidence
	res.Urgency = canonical.Urgency(p.Urgency.Label)
	res.UrgencyConfidence = &p.Urgency.Confidence
	res.LLMAccepted = true
	res.ModelRef = &p.modelID
	promptRef := p.promptSHA256
	res.PromptRef = &promptRef

	present := make(map[string]bool, len(prescanFlags))
	for _, f := range prescanFlags {
		present[f.Label] = true
	}
	res.RiskFlags = prescanFlags
	threshold := c.Snapshot.Classify.Acceptance.RiskFlag
	for _, f := range p.RiskFlags {
		if present[f.Label] || f.Confidence < threshold {
			continue
		}
		src := SourceLLM
		res.RiskFlags = append(res.RiskFlags, Label{
			Label:      f.Label,
			Confidence: f.Confidence,
			Source:     &src,
			Evidence:   toEvidence(f.Evidence),
		})
	}
}

// seal computes the decision hash and returns the finished artifact.
func (c *Classifier) seal(msg *normalize.Message, res *Result) (*Result, error) {
	cfg := c.Snapshot.Classify.LLM
	input := decision.ClassifyInput{
		Base: decision.Base{
			SystemID:            c.Snapshot.Pack.SystemID,
			CanonicalSpecSemver: c.Snapshot.Pack.CanonicalSpecSemver,
			Stage:               canonical.StageClassify,
			MessageFingerprint:  msg.Fingerprint,
			RawMIMESHA256:       msg.RawMIMESHA256,
			ConfigRef:           c.Snapshot.Ref(),
			DeterminismMode:     c.Snapshot.Runtime.DeterminismMode,
		},
		RulesVersion:  res.RulesVersion,
		LLM:           decision.LLMInput{Enabled: cfg.Enabled, Provider: cfg.Provider},
		PrimaryIntent: string(res.PrimaryIntent),
		ProductLine:   string(res.ProductLine),
		Urgency:       string(res.Urgency),
		Intents:       toDecisionLabels(res.Intents),
		RiskFlags:     toDecisionLabels(res.RiskFlags),
	}
	if res.ModelRef != nil {
		input.LLM.ModelID = *res.ModelRef
	}
	if res.PromptRef != nil {
		input.LLM.PromptSHA256 = *res.PromptRef
	}

	hash, err := decision.Hash(input)
	if err != nil {
		return nil, err
	}
	res.DecisionHash = hash
	return res, nil
}

func toDecisionLabels(labels []Label) []decision.LabelInput {
	out := make([]decision.LabelInput, 0, len(labels))
	for _, l := range labels {
		dl := decision.LabelInput{
			Label:           l.Label,
			Confidence:      l.Confidence,
			EvidenceSHA256s: make([]string, 0, len(l.Evidence)),
		}
		for _, e := range l.Evidence {
			dl.EvidenceSHA256s = append(dl.EvidenceSHA256s, e.SnippetSHA256)
		}
		out = append(out, dl)
	}
	return out
}

func toLabels(in []llmLabel, source string) []Label {
	out := make([]Label, 0, len(in))
	for _, l := range in {
		src := source
		out = append(out, Label{
			Label:      l.Label,
			Confidence: l.Confidence,
			Source:     &src,
			Evidence:   toEvidence(l.Evidence),
		})
	}
	return out
}

func toEvidence(spans []llmSpan) []artifact.Evidence {
	out := make([]artifact.Evidence, 0, len(spans))
	for _, s := range spans {
		out = append(out, artifact.Evidence{
			Snippet:       s.Snippet,
			SnippetSHA256: s.SnippetSHA256,
			Start:         s.Start,
			End:           s.End,
			SourceRef:     s.SourceRef,
		})
	}
	return out
}

func confidenceOf(labels []llmLabel, label string) float64 {
	for _, l := range labels {
		if l.Label == label {
			return l.Confidence
		}
	}
	return 0
}

func evidenceOf(labels []llmLabel, label string) []llmSpan {
	for _, l := range labels {
		if l.Label == label {
			return l.Evidence
		}
	}
	return nil
}
