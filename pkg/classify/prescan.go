package classify

import (
	"unicode"
	"unicode/utf8"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
)

// span finds the first occurrence of needle, matching case-insensitive
// but cutting evidence from the original text so snippets stay
// verbatim. Matching walks the original text rune by rune: lowercasing
// the whole text first would shift byte offsets wherever a rune folds
// to a different byte length.
func span(text, sourceRef, needle string) *artifact.Evidence {
	start, end := foldIndex(text, needle)
	if start == -1 {
		return nil
	}
	e := artifact.NewEvidence(text, start, end, sourceRef)
	return &e
}

// foldIndex returns the byte offsets in text of the first per-rune
// case-insensitive occurrence of needle, or (-1, -1).
func foldIndex(text, needle string) (int, int) {
	want := []rune(needle)
	for i := 0; i < len(text); {
		j, k := i, 0
		for k < len(want) && j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.ToLower(r) != unicode.ToLower(want[k]) {
				break
			}
			j += size
			k++
		}
		if k == len(want) {
			return i, j
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return -1, -1
}

// headSpan is the fallback evidence: the first 20 bytes of the text.
func headSpan(text, sourceRef string) artifact.Evidence {
	end := 20
	if end > len(text) {
		end = len(text)
	}
	return artifact.NewEvidence(text, 0, end, sourceRef)
}

func bodyOrSubjectSpan(subject, body, needle string) artifact.Evidence {
	if e := span(body, "BODY_C14N", needle); e != nil {
		return *e
	}
	if e := span(subject, "SUBJECT_C14N", needle); e != nil {
		return *e
	}
	return headSpan(body, "BODY_C14N")
}

// prescanRule is one versioned keyword rule of the risk prescan.
type prescanRule struct {
	flag       canonical.RiskFlag
	needle     string
	confidence float64
}

// The keyword portion of the prescan. Malware and language gating are
// structural checks handled separately in Prescan.
var prescanRules = []prescanRule{
	{canonical.RiskRegulatory, "ombudsmann", 0.80},
	{canonical.RiskPrivacySensitive, "iban", 0.85},
	{canonical.RiskPrivacySensitive, "dsgvo", 0.80},
	{canonical.RiskLegalThreat, "frist", 0.90},
	{canonical.RiskAutoreplyLoop, "automatically generated", 0.80},
}

// Prescan computes the deterministic risk flag set. It always runs, in
// both pipeline modes; model output may add flags but never remove
// these.
func Prescan(subject, body, language string, supported func(string) bool, attRecords []attachments.Record) []Label {
	var flags []Label
	add := func(flag canonical.RiskFlag, confidence float64, ev artifact.Evidence) {
		for i := range flags {
			if flags[i].Label == string(flag) {
				if confidence > flags[i].Confidence {
					flags[i].Confidence = confidence
					flags[i].Evidence = []artifact.Evidence{ev}
				}
				return
			}
		}
		src := SourcePrescan
		flags = append(flags, Label{
			Label:      string(flag),
			Confidence: confidence,
			Source:     &src,
			Evidence:   []artifact.Evidence{ev},
		})
	}

	if attachments.AnyGated(attRecords) {
		ev := bodyOrSubjectSpan(subject, body, "anbei")
		if ev.Snippet == "" {
			ev = headSpan(subject, "SUBJECT_C14N")
		}
		add(canonical.RiskSecurityMalware, 0.95, ev)
	}
	if language != "" && supported != nil && !supported(language) {
		add(canonical.RiskLanguageUnsupported, 0.95, headSpan(subject, "SUBJECT_C14N"))
	}

	for _, rule := range prescanRules {
		if e := span(body, "BODY_C14N", rule.needle); e != nil {
			add(rule.flag, rule.confidence, *e)
		} else if e := span(subject, "SUBJECT_C14N", rule.needle); e != nil {
			add(rule.flag, rule.confidence, *e)
		}
	}
	return flags
}
