package attachments

import (
	"context"

	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
)

// Processor scans and extracts every attachment of a message. The raw
// bytes and any extracted text land in the blob store; the returned
// records are the attachment artifacts to persist.
type Processor struct {
	Scanner   Scanner
	Extractor TextExtractor
	Blobs     blob.Store
}

// Process produces one record per part, in the same order. The scan
// verdict is always recorded; extraction only runs on clean files.
func (p *Processor) Process(ctx context.Context, messageID string, parts []normalize.Part) ([]Record, error) {
	records := make([]Record, 0, len(parts))
	for _, part := range parts {
		rec, err := p.processOne(ctx, messageID, part)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *Processor) processOne(ctx context.Context, messageID string, part normalize.Part) (Record, error) {
	digest, err := p.Blobs.Put(ctx, part.Content)
	if err != nil {
		return Record{}, err
	}

	verdict, err := p.Scanner.Scan(ctx, part.Content)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageAttachments, "av_scan_failed", err)
	}

	rec := Record{
		SchemaID:     canonical.SchemaAttachment,
		AttachmentID: normalize.AttachmentID(messageID, digest, part.Filename),
		MessageID:    messageID,
		Filename:     part.Filename,
		MIMEType:     part.MIMEType,
		SizeBytes:    len(part.Content),
		SHA256:       digest,
		AV: AV{
			Status:         verdict.Status,
			ScannerVersion: verdict.ScannerVersion,
		},
	}
	if verdict.Signature != "" {
		sig := verdict.Signature
		rec.AV.Signature = &sig
	}
	if verdict.Status != canonical.AVClean {
		return rec, nil
	}

	ext, err := p.Extractor.Extract(ctx, part.Content, part.MIMEType)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageAttachments, "text_extraction_failed", err)
	}
	if ext.Text != "" {
		textDigest, err := p.Blobs.Put(ctx, []byte(ext.Text))
		if err != nil {
			return Record{}, err
		}
		rec.TextRef = &TextRef{URI: "blob://" + textDigest, SHA256: textDigest}
		conf := ext.Confidence
		rec.OCRConfidence = &conf
	}
	return rec, nil
}

// AnyGated reports whether any record forces the malware risk flag.
func AnyGated(records []Record) bool {
	for _, r := range records {
		if r.Gated() {
			return true
		}
	}
	return false
}
