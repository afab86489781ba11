package normalize_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/normalize"
)

const plainEML = "From: Max Muster <Max.Muster@example.com>\r\n" +
	"To: intake@versicherung.example\r\n" +
	"Subject: Unfall gestern A2\r\n" +
	"Message-Id: <abc@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0100\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Guten Tag,\r\n" +
	"gestern hatte ich einen Unfall. Polizzennr 12-3456789.\r\n" +
	"\r\n" +
	"Am 01.01.2006 schrieb intake@versicherung.example:\r\n" +
	"> alte nachricht\r\n"

const multipartEML = "From: sender@example.com\r\n" +
	"To: intake@versicherung.example\r\n" +
	"Subject: Nachreichung CLM-2024-0042\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"anbei die unterlagen\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"bericht.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--XYZ--\r\n"

func buildInput(raw []byte) normalize.BuildInput {
	return normalize.BuildInput{
		MessageID:     "m-1",
		RunID:         "r-1",
		IngestedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Source:        "dropbox",
		RawMIMESHA256: canonicalize.Digest(raw),
	}
}

func TestParseAndBuildPlain(t *testing.T) {
	raw := []byte(plainEML)
	parsed, err := normalize.ParseMIME(raw)
	require.NoError(t, err)

	msg, err := normalize.Build(parsed, buildInput(raw))
	require.NoError(t, err)

	assert.Equal(t, "max.muster@example.com", msg.FromEmail)
	assert.Equal(t, []string{"intake@versicherung.example"}, msg.ToEmails)
	assert.Equal(t, "Unfall gestern A2", msg.SubjectC14N)
	assert.Equal(t, "de", msg.Language)
	require.NotNil(t, msg.ThreadKeys.InternetMessageID)
	assert.Equal(t, "<abc@example.com>", *msg.ThreadKeys.InternetMessageID)

	// The quoted reply tail must be cut at the boundary marker.
	assert.Contains(t, msg.BodyTextC14N, "Polizzennr 12-3456789")
	assert.NotContains(t, msg.BodyTextC14N, "alte nachricht")
	assert.True(t, strings.HasPrefix(msg.Fingerprint, "sha256:"))
}

func TestParseMultipartAttachment(t *testing.T) {
	raw := []byte(multipartEML)
	parsed, err := normalize.ParseMIME(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "bericht.pdf", parsed.Attachments[0].Filename)
	assert.Equal(t, []byte("%PDF-1.4"), parsed.Attachments[0].Content)

	msg, err := normalize.Build(parsed, buildInput(raw))
	require.NoError(t, err)
	require.Len(t, msg.AttachmentIDs, 1)
	assert.Equal(t, "anbei die unterlagen", msg.BodyTextC14N)
}

func TestFingerprintStableAcrossResend(t *testing.T) {
	raw := []byte(plainEML)
	parsed, err := normalize.ParseMIME(raw)
	require.NoError(t, err)

	m1, err := normalize.Build(parsed, buildInput(raw))
	require.NoError(t, err)

	in2 := buildInput(raw)
	in2.IngestedAt = in2.IngestedAt.Add(48 * time.Hour)
	in2.RunID = "r-2"
	m2, err := normalize.Build(parsed, in2)
	require.NoError(t, err)

	assert.Equal(t, m1.Fingerprint, m2.Fingerprint)
}

func TestBuildRejectsMissingSender(t *testing.T) {
	parsed := &normalize.Parsed{ToEmails: []string{"x@example.com"}}
	_, err := normalize.Build(parsed, normalize.BuildInput{
		MessageID: "m-1", RawMIMESHA256: canonicalize.Digest([]byte("x")),
	})
	assert.Error(t, err)
}
