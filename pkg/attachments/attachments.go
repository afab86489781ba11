// Package attachments stamps every attachment with an antivirus
// verdict and an extracted-text reference before anything downstream
// may read it. A failed scan is treated like a suspicious file: the
// bytes never reach identity, classification or extraction.
package attachments

import (
	"context"

	"github.com/intake-labs/ire/pkg/canonical"
)

// ScanResult is the verdict of one antivirus pass.
type ScanResult struct {
	Status         canonical.AVStatus
	ScannerVersion string
	Signature      string
}

// Scanner is the antivirus boundary.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (ScanResult, error)
}

// Extraction is the text recovered from one attachment.
type Extraction struct {
	Text       string
	Confidence float64
}

// TextExtractor recovers text from attachment bytes. OCR engines plug
// in behind this interface; the built-in extractor handles plain text
// and byte-sniffable formats only.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (Extraction, error)
}

// AV is the verdict block on the attachment artifact.
type AV struct {
	Status         canonical.AVStatus `json:"status"`
	ScannerVersion string             `json:"scanner_version"`
	Signature      *string            `json:"signature,omitempty"`
}

// TextRef points at the stored extracted text.
type TextRef struct {
	URI    string `json:"uri,omitempty"`
	SHA256 string `json:"sha256"`
}

// Record is the attachment artifact.
type Record struct {
	SchemaID      string   `json:"schema_id"`
	AttachmentID  string   `json:"attachment_id"`
	MessageID     string   `json:"message_id"`
	Filename      string   `json:"filename"`
	MIMEType      string   `json:"mime_type"`
	SizeBytes     int      `json:"size_bytes"`
	SHA256        string   `json:"sha256"`
	AV            AV       `json:"av"`
	TextRef       *TextRef `json:"extracted_text_ref,omitempty"`
	OCRConfidence *float64 `json:"ocr_confidence,omitempty"`
}

// UsableForDecisions reports whether downstream stages may read the
// attachment's extracted text. Anything but a clean verdict is gated.
func (r Record) UsableForDecisions() bool {
	return r.AV.Status == canonical.AVClean
}

// Gated reports whether the verdict forces the malware risk flag.
// FAILED counts: an unscannable file is handled like a suspicious one.
func (r Record) Gated() bool {
	switch r.AV.Status {
	case canonical.AVInfected, canonical.AVSuspicious, canonical.AVFailed:
		return true
	}
	return false
}
