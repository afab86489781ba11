package canonicalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Quoted-reply boundary markers. Matching is line-anchored on the canonical
// newline form; the first matching line and everything after it is dropped.
var replyBoundaries = []*regexp.Regexp{
	regexp.MustCompile(`^>`),
	regexp.MustCompile(`^On .+ wrote:\s*$`),
	regexp.MustCompile(`^Am .+ schrieb .+:\s*$`),
	regexp.MustCompile(`^-{2,}\s*(Original Message|Ursprüngliche Nachricht)\s*-{2,}`),
	regexp.MustCompile(`^Von:\s.+`),
	regexp.MustCompile(`^From:\s.+@.+`),
}

var intraLineWS = regexp.MustCompile(`[ \t]+`)

// CanonicalSubject produces subject_c14n: NFC, whitespace collapsed,
// trimmed. Case is preserved; evidence offsets refer to this form.
func CanonicalSubject(subject string) string {
	s := norm.NFC.String(subject)
	s = intraLineWS.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CanonicalBody produces body_text_c14n: NFC, CRLF folded to LF, the quoted
// reply tail stripped at the first boundary marker, horizontal whitespace
// collapsed per line, trailing blank lines dropped. Case is preserved;
// evidence offsets refer to this form.
func CanonicalBody(body string) string {
	s := norm.NFC.String(body)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isReplyBoundary(line) {
			break
		}
		line = intraLineWS.ReplaceAllString(line, " ")
		kept = append(kept, strings.TrimRight(line, " "))
	}
	out := strings.Join(kept, "\n")
	return strings.TrimRight(out, "\n")
}

func isReplyBoundary(line string) bool {
	for _, re := range replyBoundaries {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// FingerprintForm lowercases a canonical text. Used only for fingerprint
// hashing and keyword matching, never for evidence offsets.
func FingerprintForm(c14n string) string {
	return strings.ToLower(c14n)
}

var germanMarkers = []string{
	"guten tag", "bitte", "schaden", "polizz", "kündig", "rechnung",
	"sehr geehrte", "mit freundlichen grüßen",
}

// DetectLanguage returns a two-letter hint ("de" or "en") from fixed
// marker lists. The hint selects request-info templates only.
func DetectLanguage(subject, body string) string {
	text := FingerprintForm(norm.NFC.String(subject + " " + body))
	for _, m := range germanMarkers {
		if strings.Contains(text, m) {
			return "de"
		}
	}
	return "en"
}

// VerbatimAt reports whether snippet occurs in text exactly at [start,end).
// Offsets are byte offsets into the canonical text.
func VerbatimAt(text, snippet string, start, end int) bool {
	if start < 0 || end > len(text) || start >= end {
		return false
	}
	return text[start:end] == snippet
}
