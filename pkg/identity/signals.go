package identity

import (
	"regexp"
	"strings"
)

// Signal names. Weights come from config; the strength class decides
// what a signal can prove on its own.
const (
	SigClaimLookupMatch    = "SIG_CLAIM_NUMBER_LOOKUP_MATCH"
	SigPolicyLookupMatch   = "SIG_POLICY_NUMBER_LOOKUP_MATCH"
	SigCustomerLookupMatch = "SIG_CUSTOMER_NUMBER_LOOKUP_MATCH"
	SigSenderEmailMatch    = "SIG_SENDER_EMAIL_MATCH"
	SigSignatureFuzzy      = "SIG_SIGNATURE_FUZZY_MATCH"
)

// Identifier sources name where in the canonical message a hit was
// found. Attachment sources carry the attachment index.
const (
	SourceSubject = "SUBJECT_C14N"
	SourceBody    = "BODY_C14N"
)

var (
	policyRE       = regexp.MustCompile(`(?i)\bPOL-\d{4}-\d{8}\b`)
	policyLegacyRE = regexp.MustCompile(`\b\d{2}-\d{7}\b`)
	policyPrefixRE = regexp.MustCompile(`(?i)\bpolizzennr\s+(\d{2}-\d{7})\b`)
	claimRE        = regexp.MustCompile(`(?i)\bCLM-\d{4}-\d{4}\b`)
	customerRE     = regexp.MustCompile(`(?i)\bKD-\d{6}\b`)
)

// ValidPolicyNumber accepts the current POL-YYYY-NNNNNNNN grammar and
// the legacy NN-NNNNNNN form still present in older correspondence.
func ValidPolicyNumber(s string) bool {
	return policyRE.MatchString(s) || policyLegacyRE.MatchString(s)
}

func ValidClaimNumber(s string) bool    { return claimRE.MatchString(s) }
func ValidCustomerNumber(s string) bool { return customerRE.MatchString(s) }

// Hit is one identifier occurrence with its evidence span. Offsets are
// byte offsets into the canonical source text.
type Hit struct {
	Value   string
	Source  string
	Start   int
	End     int
	Snippet string
}

func hitAt(text, source string, loc []int) *Hit {
	raw := text[loc[0]:loc[1]]
	return &Hit{
		Value:   strings.ToUpper(raw),
		Source:  source,
		Start:   loc[0],
		End:     loc[1],
		Snippet: raw,
	}
}

// FindClaimNumber scans subject first, then body.
func FindClaimNumber(subjectC14N, bodyC14N string) *Hit {
	if loc := claimRE.FindStringIndex(subjectC14N); loc != nil {
		return hitAt(subjectC14N, SourceSubject, loc)
	}
	if loc := claimRE.FindStringIndex(bodyC14N); loc != nil {
		return hitAt(bodyC14N, SourceBody, loc)
	}
	return nil
}

// FindPolicyNumber prefers the modern grammar, then the legacy number
// reachable via its subject mention or the "polizzennr" prefix form.
// A subject hit that reappears in the body is reported with the body
// span so downstream evidence points at the richer context.
func FindPolicyNumber(subjectC14N, bodyC14N string) *Hit {
	for _, re := range []*regexp.Regexp{policyRE, policyLegacyRE} {
		if loc := re.FindStringIndex(subjectC14N); loc != nil {
			number := subjectC14N[loc[0]:loc[1]]
			if idx := strings.Index(bodyC14N, number); idx != -1 {
				return &Hit{
					Value:   strings.ToUpper(number),
					Source:  SourceBody,
					Start:   idx,
					End:     idx + len(number),
					Snippet: number,
				}
			}
			return hitAt(subjectC14N, SourceSubject, loc)
		}
	}
	if loc := policyPrefixRE.FindStringSubmatchIndex(bodyC14N); loc != nil {
		return &Hit{
			Value:   strings.ToUpper(bodyC14N[loc[2]:loc[3]]),
			Source:  SourceBody,
			Start:   loc[0],
			End:     loc[1],
			Snippet: bodyC14N[loc[0]:loc[1]],
		}
	}
	for _, re := range []*regexp.Regexp{policyRE, policyLegacyRE} {
		if loc := re.FindStringIndex(bodyC14N); loc != nil {
			return hitAt(bodyC14N, SourceBody, loc)
		}
	}
	return nil
}

// FindCustomerNumber scans subject first, then body.
func FindCustomerNumber(subjectC14N, bodyC14N string) *Hit {
	if loc := customerRE.FindStringIndex(subjectC14N); loc != nil {
		return hitAt(subjectC14N, SourceSubject, loc)
	}
	if loc := customerRE.FindStringIndex(bodyC14N); loc != nil {
		return hitAt(bodyC14N, SourceBody, loc)
	}
	return nil
}

// sharedMailboxLocalParts are sender local parts that identify a
// functional mailbox rather than a person. Hits from these senders get
// the configured score penalty.
var sharedMailboxLocalParts = map[string]bool{
	"info": true, "office": true, "kontakt": true, "service": true,
	"mail": true, "post": true, "kanzlei": true, "noreply": true,
	"no-reply": true,
}

// SharedMailbox reports whether the sender address is a functional
// mailbox.
func SharedMailbox(email string) bool {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return false
	}
	return sharedMailboxLocalParts[strings.ToLower(local)]
}
