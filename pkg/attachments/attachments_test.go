package attachments_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/normalize"
)

func newProcessor(t *testing.T) *attachments.Processor {
	t.Helper()
	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &attachments.Processor{
		Scanner:   attachments.FixtureScanner{},
		Extractor: attachments.PlainExtractor{},
		Blobs:     blobs,
	}
}

func TestProcessCleanTextAttachment(t *testing.T) {
	p := newProcessor(t)
	parts := []normalize.Part{
		{Filename: "notes.txt", MIMEType: "text/plain; charset=utf-8", Content: []byte("Schadennummer CLM-2024-0042")},
	}
	records, err := p.Process(context.Background(), "m-1", parts)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, canonical.AVClean, rec.AV.Status)
	assert.True(t, rec.UsableForDecisions())
	require.NotNil(t, rec.TextRef)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, rec.TextRef.SHA256)

	data, err := p.Blobs.Get(context.Background(), rec.TextRef.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "Schadennummer CLM-2024-0042", string(data))
}

func TestProcessInfectedAttachmentIsGated(t *testing.T) {
	p := newProcessor(t)
	parts := []normalize.Part{
		{Filename: "invoice.txt", MIMEType: "text/plain", Content: []byte("IRE-AV-TEST-SIGNATURE payload")},
	}
	records, err := p.Process(context.Background(), "m-1", parts)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, canonical.AVInfected, rec.AV.Status)
	require.NotNil(t, rec.AV.Signature)
	assert.False(t, rec.UsableForDecisions())
	assert.Nil(t, rec.TextRef, "infected files must not be extracted")
	assert.True(t, attachments.AnyGated(records))
}

func TestProcessBinaryAttachmentStoresBytesOnly(t *testing.T) {
	p := newProcessor(t)
	parts := []normalize.Part{
		{Filename: "bericht.pdf", MIMEType: "application/pdf", Content: []byte("%PDF-1.4 binary")},
	}
	records, err := p.Process(context.Background(), "m-1", parts)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, canonical.AVClean, rec.AV.Status)
	assert.Nil(t, rec.TextRef)
	assert.Equal(t, len("%PDF-1.4 binary"), rec.SizeBytes)

	raw, err := p.Blobs.Get(context.Background(), rec.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 binary", string(raw))
}

func TestFailedVerdictCountsAsGated(t *testing.T) {
	rec := attachments.Record{AV: attachments.AV{Status: canonical.AVFailed}}
	assert.True(t, rec.Gated())
	assert.False(t, rec.UsableForDecisions())
}

func TestAttachmentIDStablePerContent(t *testing.T) {
	p := newProcessor(t)
	parts := []normalize.Part{{Filename: "a.txt", MIMEType: "text/plain", Content: []byte("x")}}

	r1, err := p.Process(context.Background(), "m-1", parts)
	require.NoError(t, err)
	r2, err := p.Process(context.Background(), "m-1", parts)
	require.NoError(t, err)
	assert.Equal(t, r1[0].AttachmentID, r2[0].AttachmentID)
}
