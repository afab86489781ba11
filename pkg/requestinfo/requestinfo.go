// Package requestinfo renders the deterministic request-for-information
// draft attached when routing asks for a missing identifier. Templates
// are fixed per language; the draft references the original subject and
// never echoes extracted values.
package requestinfo

import (
	"fmt"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Missing field keys. The artifact carries the keys; the rendered body
// carries the localized display names.
const (
	FieldPolicyNumber   = "policy_number"
	FieldClaimNumber    = "claim_number"
	FieldCustomerNumber = "customer_number"
)

// Draft is the request-info artifact.
type Draft struct {
	SchemaID      string   `json:"schema_id"`
	MessageID     string   `json:"message_id"`
	RunID         string   `json:"run_id"`
	Language      string   `json:"language"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	MissingFields []string `json:"missing_fields"`
}

// Input describes what the draft must ask for.
type Input struct {
	MessageID       string
	RunID           string
	Language        string
	OriginalSubject string
	MissingFields   []string
}

var fieldNames = map[string]map[string]string{
	"de": {
		FieldPolicyNumber:   "Polizzennummer",
		FieldClaimNumber:    "Schadennummer",
		FieldCustomerNumber: "Kundennummer",
	},
	"en": {
		FieldPolicyNumber:   "policy number",
		FieldClaimNumber:    "claim number",
		FieldCustomerNumber: "customer number",
	},
}

// Generate renders the draft. Unsupported languages fall back to
// German, the primary correspondence language.
func Generate(in Input) (*Draft, error) {
	if len(in.MissingFields) == 0 {
		return nil, fault.New(fault.KindValidation, canonical.StageRoute, "request_info_no_missing_fields")
	}
	lang := in.Language
	if lang != "en" {
		lang = "de"
	}
	names := fieldNames[lang]
	var lines []string
	for _, f := range in.MissingFields {
		name, ok := names[f]
		if !ok {
			return nil, fault.New(fault.KindValidation, canonical.StageRoute,
				"request_info_unknown_field")
		}
		lines = append(lines, "- "+name)
	}
	list := strings.Join(lines, "\n")

	var subject, body string
	if lang == "de" {
		subject = "Rückfrage zu Ihrer Nachricht: " + in.OriginalSubject
		body = fmt.Sprintf(`Guten Tag,

vielen Dank für Ihre Nachricht (%q).

Zur weiteren Bearbeitung benötigen wir noch folgende Angaben:

%s

Bitte antworten Sie auf diese E-Mail und ergänzen Sie die fehlenden Angaben.

Freundliche Grüße
Ihr Service-Team
`, in.OriginalSubject, list)
	} else {
		subject = "Request for information: " + in.OriginalSubject
		body = fmt.Sprintf(`Hello,

Thank you for your message (%q).

To proceed we still need the following details:

%s

Please reply to this email with the missing details.

Kind regards
Your service team
`, in.OriginalSubject, list)
	}

	return &Draft{
		SchemaID:      canonical.SchemaRequestInfoDraft,
		MessageID:     in.MessageID,
		RunID:         in.RunID,
		Language:      lang,
		Subject:       subject,
		Body:          body,
		MissingFields: append([]string(nil), in.MissingFields...),
	}, nil
}

// Reply is a deterministic acknowledgement draft, added when routing
// carries ADD_REPLY_DRAFT.
type Reply struct {
	Subject string
	Body    string
}

// Acknowledge renders the reply draft for a general inquiry. Same
// language fallback as Generate.
func Acknowledge(language, originalSubject string) Reply {
	if language != "en" {
		return Reply{
			Subject: "Re: " + originalSubject,
			Body: fmt.Sprintf(`Guten Tag,

vielen Dank für Ihre Nachricht (%q).

Ihr Anliegen wurde aufgenommen und wird von unserem Team bearbeitet.

Freundliche Grüße
Ihr Service-Team
`, originalSubject),
		}
	}
	return Reply{
		Subject: "Re: " + originalSubject,
		Body: fmt.Sprintf(`Hello,

Thank you for your message (%q).

Your request has been recorded and will be handled by our team.

Kind regards
Your service team
`, originalSubject),
	}
}
