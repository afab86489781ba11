// Package normalize turns raw MIME bytes into the NormalizedMessage
// artifact: canonical subject and body forms, thread keys, lowercased
// addresses, ordered attachment ids and the message fingerprint.
package normalize

import (
	"github.com/intake-labs/ire/pkg/canonical"
)

// ThreadKeys links a message into its conversation.
type ThreadKeys struct {
	InternetMessageID *string `json:"internet_message_id"`
	InReplyTo         *string `json:"in_reply_to"`
	ConversationID    *string `json:"conversation_id"`
}

// Message is the normalized-message artifact. Original subject and
// body are preserved next to their canonical forms; evidence offsets
// always refer to the canonical forms.
type Message struct {
	SchemaID        string     `json:"schema_id"`
	MessageID       string     `json:"message_id"`
	RunID           string     `json:"run_id,omitempty"`
	IngestedAt      string     `json:"ingested_at"`
	ReceivedAt      string     `json:"received_at,omitempty"`
	IngestionSource string     `json:"ingestion_source"`
	RawMIMEURI      string     `json:"raw_mime_uri,omitempty"`
	RawMIMESHA256   string     `json:"raw_mime_sha256"`
	FromEmail       string     `json:"from_email"`
	FromDisplayName *string    `json:"from_display_name,omitempty"`
	ReplyToEmail    *string    `json:"reply_to_email,omitempty"`
	ToEmails        []string   `json:"to_emails"`
	CcEmails        []string   `json:"cc_emails,omitempty"`
	Subject         string     `json:"subject"`
	SubjectC14N     string     `json:"subject_c14n"`
	BodyText        string     `json:"body_text"`
	BodyTextC14N    string     `json:"body_text_c14n"`
	Language        string     `json:"language"`
	ThreadKeys      ThreadKeys `json:"thread_keys"`
	AttachmentIDs   []string   `json:"attachment_ids"`
	Fingerprint     string     `json:"message_fingerprint"`
}

// Part is one decoded MIME part carrying a filename, making it an
// attachment candidate.
type Part struct {
	Filename string
	MIMEType string
	Content  []byte
}

// Parsed is the raw decoding of one MIME message before
// canonicalization.
type Parsed struct {
	InternetMessageID string
	InReplyTo         string
	References        []string
	Subject           string
	FromEmail         string
	FromDisplayName   string
	ReplyToEmail      string
	ToEmails          []string
	CcEmails          []string
	Date              string
	BodyText          string
	Attachments       []Part
}

// NewSchemaID returns the contract this package writes.
func NewSchemaID() string { return canonical.SchemaNormalizedMessage }
