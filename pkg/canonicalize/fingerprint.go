package canonicalize

import (
	"sort"
)

// AttachmentKey orders attachments canonically by (sha256, filename).
type AttachmentKey struct {
	SHA256   string
	Filename string
}

// SortAttachments sorts keys in place into canonical order.
func SortAttachments(keys []AttachmentKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SHA256 != keys[j].SHA256 {
			return keys[i].SHA256 < keys[j].SHA256
		}
		return keys[i].Filename < keys[j].Filename
	})
}

// MessageFingerprint computes the stable content identity of a message:
// SHA-256 over the canonical JSON of subject_c14n, body_text_c14n and the
// sorted attachment digest list. Sender and thread headers are excluded so
// that a resent identical message maps to the same fingerprint.
func MessageFingerprint(subjectC14N, bodyC14N string, attachmentSHA256s []string) (string, error) {
	sorted := append([]string(nil), attachmentSHA256s...)
	sort.Strings(sorted)
	return CanonicalHash(map[string]any{
		"subject_c14n":       FingerprintForm(subjectC14N),
		"body_text_c14n":     FingerprintForm(bodyC14N),
		"attachment_sha256s": sorted,
	})
}
