package extract

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/identity"
	"github.com/intake-labs/ire/pkg/llm"
)

// llmEntity is the strict-JSON contract for the extract purpose.
type llmEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Evidence   struct {
		Snippet       string `json:"snippet"`
		SnippetSHA256 string `json:"snippet_sha256"`
		Start         int    `json:"start"`
		End           int    `json:"end"`
		SourceRef     string `json:"source_ref"`
	} `json:"evidence"`
}

// proposeEntities asks the model for additional entities and merges
// the ones that survive every gate: canonical type, identifier
// grammar, verbatim evidence, and directory existence (a miss keeps
// the entity flagged, an outage drops the proposal). Invalid JSON
// drops the whole proposal; the deterministic pass already produced a
// valid artifact.
func (e *Extractor) proposeEntities(ctx context.Context, in Input, res *Result) error {
	cfg := e.Snapshot.Classify.LLM
	resp, err := e.LLM.Complete(ctx, llm.Request{
		Purpose: llm.PurposeExtract,
		ModelID: cfg.ModelName + "@" + cfg.ModelVersion,
		Prompt:  e.buildPrompt(in),
		Input:   canonicalize.Digest([]byte(in.Message.Fingerprint)),
		Params:  llm.Params{MaxTokens: cfg.TokenBudgets["extract"]},
	})
	if err != nil {
		return err
	}

	var proposed []llmEntity
	if err := json.Unmarshal([]byte(resp.Content), &proposed); err != nil {
		return nil
	}

	seen := make(map[string]bool, len(res.Entities))
	for _, ent := range res.Entities {
		seen[string(ent.Type)+"|"+ent.Value] = true
	}
	for _, p := range proposed {
		ent, ok := e.acceptProposal(ctx, in, p)
		if !ok || seen[string(ent.Type)+"|"+ent.Value] {
			continue
		}
		seen[string(ent.Type)+"|"+ent.Value] = true
		res.Entities = append(res.Entities, ent)
	}
	return nil
}

func (e *Extractor) acceptProposal(ctx context.Context, in Input, p llmEntity) (Entity, bool) {
	if !canonical.ValidExtractedEntityType(p.Type) || p.Value == "" {
		return Entity{}, false
	}
	t := canonical.ExtractedEntityType(p.Type)

	// Sensitive types never come from the model; the deterministic
	// pass owns them under the store policy.
	if t == canonical.EntIBAN {
		return Entity{}, false
	}

	switch t {
	case canonical.EntPolicyNumber:
		if !identity.ValidPolicyNumber(p.Value) {
			return Entity{}, false
		}
	case canonical.EntClaimNumber:
		if !identity.ValidClaimNumber(p.Value) {
			return Entity{}, false
		}
	case canonical.EntCustomerNumber:
		if !identity.ValidCustomerNumber(p.Value) {
			return Entity{}, false
		}
	}

	text, ok := e.resolveSource(in, p.Evidence.SourceRef)
	if !ok {
		return Entity{}, false
	}
	if !canonicalize.VerbatimAt(text, p.Evidence.Snippet, p.Evidence.Start, p.Evidence.End) ||
		canonicalize.SnippetSHA256(p.Evidence.Snippet) != p.Evidence.SnippetSHA256 {
		return Entity{}, false
	}

	value := strings.ToUpper(p.Value)
	ent := plainEntity(t, value, p.Confidence,
		Provenance{Source: SourceLLM, Start: p.Evidence.Start, End: p.Evidence.End})

	if entityType, isIdentifier := directoryEntityType(t); isIdentifier && e.Directory != nil {
		entry, err := directory.Lookup(ctx, e.Directory, entityType, value)
		if err != nil {
			return Entity{}, false
		}
		ent.DirectoryMiss = entry == nil
	}
	return ent, true
}

func (e *Extractor) resolveSource(in Input, ref string) (string, bool) {
	switch {
	case ref == "SUBJECT_C14N":
		return in.Message.SubjectC14N, true
	case ref == "BODY_C14N":
		return in.Message.BodyTextC14N, true
	case strings.HasPrefix(ref, "ATTACHMENT_TEXT:"):
		i, err := strconv.Atoi(strings.TrimPrefix(ref, "ATTACHMENT_TEXT:"))
		if err != nil || i < 0 || i >= len(in.AttachmentTexts) {
			return "", false
		}
		return in.AttachmentTexts[i], true
	}
	return "", false
}

func (e *Extractor) buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Extract typed entities from the following insurance intake email.\n")
	b.WriteString("Respond with a strict JSON array of objects with keys type, value, confidence, evidence.\n")
	b.WriteString("Allowed types: ")
	for i, v := range canonical.ExtractedEntityTypes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(v))
	}
	b.WriteString("\nEvery entity needs one evidence span verbatim from the given text with byte offsets.\n\n")
	b.WriteString("SUBJECT_C14N:\n" + in.Message.SubjectC14N + "\n\n")
	b.WriteString("BODY_C14N:\n" + in.Message.BodyTextC14N + "\n")
	for i, t := range in.AttachmentTexts {
		b.WriteString("\nATTACHMENT_TEXT:" + strconv.Itoa(i) + ":\n" + t + "\n")
	}
	return b.String()
}
