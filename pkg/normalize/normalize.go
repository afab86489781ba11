package normalize

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// BuildInput carries the ingest-side facts the normalizer cannot
// derive from the MIME bytes.
type BuildInput struct {
	MessageID     string
	RunID         string
	IngestedAt    time.Time
	Source        string
	RawMIMEURI    string
	RawMIMESHA256 string
}

// AttachmentID derives the stable id of an attachment from its chain
// position: same message, same bytes, same filename, same id.
func AttachmentID(messageID, sha256, filename string) string {
	name := fmt.Sprintf("att:%s:%s:%s", messageID, sha256, filename)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Build produces the normalized message artifact from a parsed MIME
// tree. Attachment ids are ordered canonically by (sha256, filename);
// the fingerprint covers canonical text and attachment digests only.
func Build(p *Parsed, in BuildInput) (*Message, error) {
	if in.MessageID == "" || in.RawMIMESHA256 == "" {
		return nil, fault.New(fault.KindValidation, canonical.StageNormalize, "normalize_missing_identity")
	}
	if p.FromEmail == "" {
		return nil, fault.New(fault.KindValidation, canonical.StageNormalize, "normalize_missing_sender")
	}
	if len(p.ToEmails) == 0 {
		return nil, fault.New(fault.KindValidation, canonical.StageNormalize, "normalize_missing_recipients")
	}

	subjectC14N := canonicalize.CanonicalSubject(p.Subject)
	bodyC14N := canonicalize.CanonicalBody(p.BodyText)

	keys := make([]canonicalize.AttachmentKey, 0, len(p.Attachments))
	for _, att := range p.Attachments {
		keys = append(keys, canonicalize.AttachmentKey{
			SHA256:   canonicalize.Digest(att.Content),
			Filename: att.Filename,
		})
	}
	canonicalize.SortAttachments(keys)

	attachmentIDs := make([]string, 0, len(keys))
	attachmentSHAs := make([]string, 0, len(keys))
	for _, k := range keys {
		attachmentIDs = append(attachmentIDs, AttachmentID(in.MessageID, k.SHA256, k.Filename))
		attachmentSHAs = append(attachmentSHAs, k.SHA256)
	}

	fingerprint, err := canonicalize.MessageFingerprint(subjectC14N, bodyC14N, attachmentSHAs)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, canonical.StageNormalize, "fingerprint_failed", err)
	}

	m := &Message{
		SchemaID:        canonical.SchemaNormalizedMessage,
		MessageID:       in.MessageID,
		RunID:           in.RunID,
		IngestedAt:      audit.FormatTime(in.IngestedAt),
		IngestionSource: in.Source,
		RawMIMEURI:      in.RawMIMEURI,
		RawMIMESHA256:   in.RawMIMESHA256,
		FromEmail:       p.FromEmail,
		ToEmails:        p.ToEmails,
		CcEmails:        p.CcEmails,
		Subject:         p.Subject,
		SubjectC14N:     subjectC14N,
		BodyText:        p.BodyText,
		BodyTextC14N:    bodyC14N,
		Language:        canonicalize.DetectLanguage(subjectC14N, bodyC14N),
		AttachmentIDs:   attachmentIDs,
		Fingerprint:     fingerprint,
	}
	if p.FromDisplayName != "" {
		name := p.FromDisplayName
		m.FromDisplayName = &name
	}
	if p.ReplyToEmail != "" {
		replyTo := p.ReplyToEmail
		m.ReplyToEmail = &replyTo
	}
	if p.Date != "" {
		if t, err := mail.ParseDate(p.Date); err == nil {
			m.ReceivedAt = audit.FormatTime(t)
		}
	}
	if p.InternetMessageID != "" {
		id := p.InternetMessageID
		m.ThreadKeys.InternetMessageID = &id
	}
	if p.InReplyTo != "" {
		irt := p.InReplyTo
		m.ThreadKeys.InReplyTo = &irt
	}
	if conv := conversationKey(p); conv != "" {
		m.ThreadKeys.ConversationID = &conv
	}
	return m, nil
}

// conversationKey anchors a thread on the first References entry, the
// message being replied to, or the message's own id for thread roots.
func conversationKey(p *Parsed) string {
	if len(p.References) > 0 {
		return p.References[0]
	}
	if p.InReplyTo != "" {
		return p.InReplyTo
	}
	return p.InternetMessageID
}
