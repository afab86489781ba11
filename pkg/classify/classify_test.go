package classify_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/classify"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/llm"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/store"
)

func snapshot(mode string) *config.Snapshot {
	return &config.Snapshot{
		Pack:     config.PackConfig{SystemID: "ire", CanonicalSpecSemver: "1.0.0"},
		Runtime:  config.RuntimeConfig{SupportedLanguages: []string{"de", "en"}},
		Pipeline: config.PipelineConfig{Mode: mode},
		Classify: config.ClassifyConfig{
			RulesVersion: "rules-2024.06",
			Acceptance: config.AcceptanceThresholds{
				PrimaryIntent: 0.72, ProductLine: 0.65, Urgency: 0.60, RiskFlag: 0.80,
			},
			DisagreementMin:  0.85,
			MaxModelAttempts: 2,
			LLM: config.LLMConfig{
				Enabled: true, Provider: "openai",
				ModelName: "intake-classify", ModelVersion: "v3",
			},
		},
	}
}

func message(subject, body string) *normalize.Message {
	return &normalize.Message{
		MessageID:     "m-1",
		RunID:         "r-1",
		SubjectC14N:   subject,
		BodyTextC14N:  body,
		Language:      "de",
		Fingerprint:   "sha256:" + strings.Repeat("a", 64),
		RawMIMESHA256: "sha256:" + strings.Repeat("b", 64),
	}
}

func TestBaselineClaimNew(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Unfall gestern A2", "gestern hatte ich einen unfall auf der autobahn."),
	})
	require.NoError(t, err)

	assert.Equal(t, canonical.IntentClaimNew, res.PrimaryIntent)
	assert.Equal(t, canonical.ProdAuto, res.ProductLine)
	assert.False(t, res.FailClosed)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, res.DecisionHash)
	require.NotEmpty(t, res.Intents)
	require.NotEmpty(t, res.Intents[0].Evidence)
	ev := res.Intents[0].Evidence[0]
	assert.Equal(t, canonicalize.SnippetSHA256(ev.Snippet), ev.SnippetSHA256)
}

func TestPrescanEvidenceOffsetsSurviveCaseFolding(t *testing.T) {
	// İ lowercases to a shorter byte sequence, so an index computed in
	// a lowercased copy of the text would drift. The snippet must stay
	// the verbatim keyword bytes of the original.
	body := "zur İmmobilie: wir setzen Ihnen eine FRIST von 14 Tagen."
	labels := classify.Prescan("", body, "de", nil, nil)

	var legal *classify.Label
	for i := range labels {
		if labels[i].Label == string(canonical.RiskLegalThreat) {
			legal = &labels[i]
		}
	}
	require.NotNil(t, legal)
	require.NotEmpty(t, legal.Evidence)
	ev := legal.Evidence[0]
	assert.Equal(t, "FRIST", ev.Snippet)
	assert.True(t, ev.Verify(body))
}

func TestBaselineGDPRBeatsDocumentSubmission(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("DSGVO Auskunft", "anbei meine dsgvo anfrage, bitte um auskunft."),
	})
	require.NoError(t, err)
	assert.Equal(t, canonical.IntentGDPRRequest, res.PrimaryIntent)
	assert.GreaterOrEqual(t, len(res.Intents), 2, "document submission should stack")
}

func TestPrescanMalwareFromGatedAttachment(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Rechnung", "anbei die rechnung"),
		Attachments: []attachments.Record{
			{AV: attachments.AV{Status: canonical.AVInfected}},
		},
	})
	require.NoError(t, err)

	flags := res.RiskFlagSet()
	assert.Contains(t, flags, canonical.RiskSecurityMalware)
}

func TestPrescanCollectsMultipleFlags(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Beschwerde", "der ombudsmann ist informiert. meine iban lautet anbei. die frist läuft."),
	})
	require.NoError(t, err)

	flags := res.RiskFlagSet()
	assert.Contains(t, flags, canonical.RiskRegulatory)
	assert.Contains(t, flags, canonical.RiskPrivacySensitive)
	assert.Contains(t, flags, canonical.RiskLegalThreat)
}

func TestUnsupportedLanguageFlagged(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	msg := message("Pregunta", "necesito informacion sobre mi poliza")
	msg.Language = "es"
	res, err := c.Classify(context.Background(), classify.Input{Message: msg})
	require.NoError(t, err)
	assert.Contains(t, res.RiskFlagSet(), canonical.RiskLanguageUnsupported)
}

func newLLMClient(t *testing.T, provider llm.Provider) *llm.Client {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &llm.Client{Provider: provider, Cache: llm.NewCache(db.SQL(), blobs)}
}

func proposalJSON(t *testing.T, body string) string {
	t.Helper()
	needle := "beratung"
	idx := strings.Index(body, needle)
	require.GreaterOrEqual(t, idx, 0)
	span := map[string]any{
		"snippet":        needle,
		"snippet_sha256": canonicalize.SnippetSHA256(needle),
		"start":          idx,
		"end":            idx + len(needle),
		"source_ref":     "BODY_C14N",
	}
	payload := map[string]any{
		"intents": []map[string]any{
			{"label": "INTENT_COVERAGE_QUESTION", "confidence": 0.9, "evidence": []any{span}},
		},
		"product_line": map[string]any{"label": "PROD_HOUSEHOLD", "confidence": 0.8, "evidence": []any{span}},
		"urgency":      map[string]any{"label": "URG_NORMAL", "confidence": 0.7, "evidence": []any{span}},
		"risk_flags":   []any{},
	}
	out, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(out)
}

func TestLLMFirstAcceptsVerifiedProposal(t *testing.T) {
	body := "ich hätte gerne eine beratung zu meiner hausratversicherung."
	provider := llm.NewFixtureProvider()
	provider.Queue(llm.PurposeClassify, proposalJSON(t, body))

	c := &classify.Classifier{
		Snapshot: snapshot(config.ModeLLMFirst),
		LLM:      newLLMClient(t, provider),
	}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Frage zur Deckung", body),
	})
	require.NoError(t, err)

	assert.True(t, res.LLMAccepted)
	assert.False(t, res.FailClosed)
	assert.Equal(t, canonical.IntentCoverageQuestion, res.PrimaryIntent)
	assert.Equal(t, canonical.ProdHousehold, res.ProductLine)
	require.NotNil(t, res.ModelRef)
	assert.Equal(t, "intake-classify@v3", *res.ModelRef)
}

func TestLLMFirstRejectsFabricatedEvidence(t *testing.T) {
	body := "ich hätte gerne eine beratung zu meiner hausratversicherung."
	fake := map[string]any{
		"snippet":        "not in the text",
		"snippet_sha256": canonicalize.SnippetSHA256("not in the text"),
		"start":          0,
		"end":            15,
		"source_ref":     "BODY_C14N",
	}
	payload := map[string]any{
		"intents": []map[string]any{
			{"label": "INTENT_COVERAGE_QUESTION", "confidence": 0.9, "evidence": []any{fake}},
		},
		"product_line": map[string]any{"label": "PROD_HOUSEHOLD", "confidence": 0.8, "evidence": []any{fake}},
		"urgency":      map[string]any{"label": "URG_NORMAL", "confidence": 0.7, "evidence": []any{fake}},
		"risk_flags":   []any{},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	provider := llm.NewFixtureProvider()
	provider.Queue(llm.PurposeClassify, string(raw))
	c := &classify.Classifier{
		Snapshot: snapshot(config.ModeLLMFirst),
		LLM:      newLLMClient(t, provider),
	}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Frage zur Deckung", body),
	})
	require.NoError(t, err)

	assert.False(t, res.LLMAccepted)
	assert.True(t, res.FailClosed)
	require.NotNil(t, res.LLMRejectReason)
	assert.Equal(t, "primary_intent_evidence_unverified", *res.LLMRejectReason)
	// Falls back to the baseline labels.
	assert.Equal(t, canonical.IntentGeneralInquiry, res.PrimaryIntent)
}

func TestLLMFirstDisagreementGate(t *testing.T) {
	// Baseline asserts GDPR with 0.98; the model proposes something else.
	body := "meine dsgvo anfrage, ich brauche eine beratung dazu."
	provider := llm.NewFixtureProvider()
	provider.Queue(llm.PurposeClassify, proposalJSON(t, body))

	c := &classify.Classifier{
		Snapshot: snapshot(config.ModeLLMFirst),
		LLM:      newLLMClient(t, provider),
	}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("DSGVO", body),
	})
	require.NoError(t, err)

	assert.False(t, res.LLMAccepted)
	assert.True(t, res.FailClosed)
	require.NotNil(t, res.LLMRejectReason)
	assert.True(t, strings.HasPrefix(*res.LLMRejectReason, "rules_disagree_"))
	assert.Equal(t, canonical.IntentGDPRRequest, res.PrimaryIntent)
}

func TestLLMFirstRepairPromptAfterInvalidJSON(t *testing.T) {
	body := "ich hätte gerne eine beratung zu meiner hausratversicherung."
	provider := llm.NewFixtureProvider()
	provider.Queue(llm.PurposeClassify, "this is not json")
	provider.Queue(llm.PurposeRepair, proposalJSON(t, body))

	c := &classify.Classifier{
		Snapshot: snapshot(config.ModeLLMFirst),
		LLM:      newLLMClient(t, provider),
	}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Frage zur Deckung", body),
	})
	require.NoError(t, err)
	assert.True(t, res.LLMAccepted)
	assert.Equal(t, 2, provider.Calls())
}

func TestLLMUnavailableFallsBackToBaseline(t *testing.T) {
	// Empty fixture: the provider faults as unavailable.
	c := &classify.Classifier{
		Snapshot: snapshot(config.ModeLLMFirst),
		LLM:      newLLMClient(t, llm.NewFixtureProvider()),
	}
	res, err := c.Classify(context.Background(), classify.Input{
		Message: message("Unfall gestern", "gestern hatte ich einen unfall."),
	})
	require.NoError(t, err)

	assert.False(t, res.LLMAccepted)
	assert.False(t, res.FailClosed)
	require.NotNil(t, res.LLMRejectReason)
	assert.Equal(t, "llm_unavailable", *res.LLMRejectReason)
	assert.Equal(t, canonical.IntentClaimNew, res.PrimaryIntent)
}

func TestDecisionHashIgnoresRunID(t *testing.T) {
	c := &classify.Classifier{Snapshot: snapshot(config.ModeBaseline)}
	m1 := message("Unfall gestern", "gestern hatte ich einen unfall.")
	m2 := message("Unfall gestern", "gestern hatte ich einen unfall.")
	m2.RunID = "r-replay"

	r1, err := c.Classify(context.Background(), classify.Input{Message: m1})
	require.NoError(t, err)
	r2, err := c.Classify(context.Background(), classify.Input{Message: m2})
	require.NoError(t, err)
	assert.Equal(t, r1.DecisionHash, r2.DecisionHash)
}
