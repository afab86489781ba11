package classify

import (
	"regexp"
	"strings"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
)

// The baseline is a versioned keyword rule engine with calibrated
// confidences. It is the whole classifier in BASELINE mode and the
// sanity check the disagreement gate compares model output against in
// LLM_FIRST mode.

func contains(text, needle string) bool {
	return strings.Contains(canonicalize.FingerprintForm(text), needle)
}

func startsWith(text, needle string) bool {
	return strings.HasPrefix(canonicalize.FingerprintForm(text), needle)
}

func ruleLabel(label string, confidence float64, ev artifact.Evidence) Label {
	src := SourceRules
	return Label{Label: label, Confidence: confidence, Source: &src, Evidence: []artifact.Evidence{ev}}
}

var claimNumberSubjectRE = regexp.MustCompile(`(?i)\bclm-\d{4}-\d{4}\b`)

// BaselineIntents evaluates the intent rules. At least one label is
// always returned; GENERAL_INQUIRY is the floor.
func BaselineIntents(subject, body string, hasAttachments bool) []Label {
	var intents []Label

	if contains(subject, "dsgvo") || contains(body, "dsgvo") {
		ev := span(subject, "SUBJECT_C14N", "dsgvo")
		if ev == nil {
			ev = span(body, "BODY_C14N", "dsgvo")
		}
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		intents = append(intents, ruleLabel(string(canonical.IntentGDPRRequest), 0.98, *ev))
	}

	if len(intents) == 0 && contains(subject, "anwalt") {
		if e := span(subject, "SUBJECT_C14N", "anwalt"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentLegal), 0.96, *e))
		}
	}
	if len(intents) == 0 && contains(body, "beschwerde") {
		if e := span(body, "BODY_C14N", "beschwerde"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentComplaint), 0.95, *e))
		}
	}
	if len(intents) == 0 && startsWith(subject, "nachreichung") {
		if e := span(subject, "SUBJECT_C14N", "nachreichung"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentClaimUpdate), 0.90, *e))
		}
	}
	if len(intents) == 0 && contains(subject, "kündigung") {
		if e := span(subject, "SUBJECT_C14N", "kündigung"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentPolicyCancellation), 0.92, *e))
		}
	}
	if len(intents) == 0 {
		switch {
		case contains(body, "schaden melden"):
			if e := span(body, "BODY_C14N", "schaden melden"); e != nil {
				intents = append(intents, ruleLabel(string(canonical.IntentClaimNew), 0.92, *e))
			}
		case startsWith(subject, "sturmschaden"):
			if e := span(subject, "SUBJECT_C14N", "sturmschaden"); e != nil {
				intents = append(intents, ruleLabel(string(canonical.IntentClaimNew), 0.87, *e))
			}
		case contains(body, "unfall") || contains(subject, "unfall"):
			ev := span(body, "BODY_C14N", "unfall")
			if ev == nil {
				ev = span(subject, "SUBJECT_C14N", "unfall")
			}
			if ev != nil {
				intents = append(intents, ruleLabel(string(canonical.IntentClaimNew), 0.90, *ev))
			}
		case contains(body, "schaden") && (contains(body, "versichert") || contains(body, "anzeige")):
			ev := span(body, "BODY_C14N", "schaden")
			if ev == nil {
				head := headSpan(body, "BODY_C14N")
				ev = &head
			}
			intents = append(intents, ruleLabel(string(canonical.IntentClaimNew), 0.85, *ev))
		}
	}
	if len(intents) == 0 && contains(body, "rückzahlung") {
		if e := span(body, "BODY_C14N", "rückzahlung"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentBillingQuestion), 0.88, *e))
		}
	}
	if len(intents) == 0 && startsWith(subject, "im auftrag") {
		if e := span(subject, "SUBJECT_C14N", "im auftrag"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentBrokerIntermediary), 0.90, *e))
		}
	}
	if len(intents) == 0 && startsWith(subject, "undelivered") {
		if e := span(subject, "SUBJECT_C14N", "undelivered"); e != nil {
			intents = append(intents, ruleLabel(string(canonical.IntentTechnical), 0.90, *e))
		}
	}

	// Document submission stacks on top of whatever else matched.
	if e := span(subject, "SUBJECT_C14N", "anbei"); e != nil {
		intents = append(intents, ruleLabel(string(canonical.IntentDocumentSubmission), 0.80, *e))
	} else if e := span(body, "BODY_C14N", "anbei"); e != nil {
		confidence := 0.55
		if hasAttachments {
			confidence = 0.70
		}
		intents = append(intents, ruleLabel(string(canonical.IntentDocumentSubmission), confidence, *e))
	}

	if len(intents) == 0 {
		intents = append(intents, ruleLabel(string(canonical.IntentGeneralInquiry), 0.55, headSpan(body, "BODY_C14N")))
	}
	return intents
}

// BaselineProduct evaluates the product rules.
func BaselineProduct(subject, body string, primary canonical.Intent) Label {
	switch {
	case contains(body, "dach"):
		ev := span(body, "BODY_C14N", "dach")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.ProdProperty), 0.75, *ev)
	case contains(body, "unfall") || contains(subject, "auffahrunfall"):
		ev := span(subject, "SUBJECT_C14N", "schadenmeldung")
		if ev == nil {
			ev = span(body, "BODY_C14N", "unfall")
		}
		if ev == nil {
			head := headSpan(subject, "SUBJECT_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.ProdAuto), 0.80, *ev)
	case claimNumberSubjectRE.MatchString(subject):
		ev := span(subject, "SUBJECT_C14N", "schaden")
		if ev == nil {
			head := headSpan(subject, "SUBJECT_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.ProdAuto), 0.60, *ev)
	}

	switch primary {
	case canonical.IntentGDPRRequest:
		ev := span(subject, "SUBJECT_C14N", "dsgvo")
		if ev == nil {
			head := headSpan(subject, "SUBJECT_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.ProdUnknown), 0.50, *ev)
	case canonical.IntentBillingQuestion:
		ev := span(body, "BODY_C14N", "rückzahlung")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.ProdUnknown), 0.45, *ev)
	}
	return ruleLabel(string(canonical.ProdUnknown), 0.40, headSpan(body, "BODY_C14N"))
}

var isoDateRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

// BaselineUrgency evaluates the urgency rules.
func BaselineUrgency(subject, body string, primary canonical.Intent, languageSupported bool) Label {
	switch {
	case contains(body, "sofort"):
		ev := span(body, "BODY_C14N", "sofort")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.UrgHigh), 0.75, *ev)
	case contains(body, "frist"):
		ev := span(body, "BODY_C14N", "frist")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.UrgCritical), 0.85, *ev)
	case primary == canonical.IntentGDPRRequest && contains(body, "auskunft"):
		ev := span(body, "BODY_C14N", "auskunft")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.UrgCritical), 0.80, *ev)
	case contains(body, "prüfen") && contains(body, "bitte"):
		ev := span(body, "BODY_C14N", "bitte")
		if ev == nil {
			head := headSpan(body, "BODY_C14N")
			ev = &head
		}
		return ruleLabel(string(canonical.UrgHigh), 0.60, *ev)
	}

	if loc := isoDateRE.FindStringIndex(body); loc != nil && contains(body, "dach") {
		return ruleLabel(string(canonical.UrgNormal), 0.70, artifact.NewEvidence(body, loc[0], loc[1], "BODY_C14N"))
	}
	if e := span(body, "BODY_C14N", "bitte bestätigen"); e != nil {
		return ruleLabel(string(canonical.UrgNormal), 0.60, *e)
	}
	if e := span(subject, "SUBJECT_C14N", "schadenmeldung"); e != nil {
		return ruleLabel(string(canonical.UrgNormal), 0.70, *e)
	}
	if e := span(subject, "SUBJECT_C14N", "undelivered"); e != nil {
		return ruleLabel(string(canonical.UrgNormal), 0.55, *e)
	}
	if !languageSupported {
		return ruleLabel(string(canonical.UrgNormal), 0.60, headSpan(subject, "SUBJECT_C14N"))
	}
	if e := span(body, "BODY_C14N", "bitte"); e != nil {
		confidence := 0.60
		if primary == canonical.IntentBrokerIntermediary {
			confidence = 0.55
		}
		return ruleLabel(string(canonical.UrgNormal), confidence, *e)
	}
	return ruleLabel(string(canonical.UrgNormal), 0.60, headSpan(subject, "SUBJECT_C14N"))
}
