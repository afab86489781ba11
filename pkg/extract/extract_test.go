package extract_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/extract"
	"github.com/intake-labs/ire/pkg/normalize"
)

func snapshot() *config.Snapshot {
	return &config.Snapshot{
		Pack:     config.PackConfig{SystemID: "ire", CanonicalSpecSemver: "1.0.0"},
		Pipeline: config.PipelineConfig{Mode: config.ModeBaseline},
		Extraction: config.ExtractionConfig{
			IBANPolicy: config.IBANPolicy{Enabled: true, StoreMode: config.IBANStoreRedacted},
		},
	}
}

func message(subject, body string) *normalize.Message {
	return &normalize.Message{
		MessageID:    "m-1",
		RunID:        "r-1",
		SubjectC14N:  subject,
		BodyTextC14N: body,
		Fingerprint:  "sha256:" + strings.Repeat("a", 64),
	}
}

func entityOf(t *testing.T, res *extract.Result, typ canonical.ExtractedEntityType) extract.Entity {
	t.Helper()
	for _, e := range res.Entities {
		if e.Type == typ {
			return e
		}
	}
	t.Fatalf("no entity of type %s", typ)
	return extract.Entity{}
}

func TestDeterministicPass(t *testing.T) {
	dir := directory.NewFixture()
	dir.Add(directory.Entry{EntityType: canonical.EntityClaim, EntityID: "CLM-2024-0042", Status: directory.StatusActive})

	x := &extract.Extractor{Snapshot: snapshot(), Directory: dir}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Nachreichung CLM-2024-0042",
			"am 2024-06-01 gab es einen Schaden in Graz. Polizzennr 12-3456789 liegt bei."),
	})
	require.NoError(t, err)

	claim := entityOf(t, res, canonical.EntClaimNumber)
	assert.Equal(t, "CLM-2024-0042", claim.ValueRedacted)
	assert.False(t, claim.DirectoryMiss)
	require.NotNil(t, claim.ValueSHA256)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, *claim.ValueSHA256)
	assert.Equal(t, "SUBJECT", claim.Provenance.Source)

	policy := entityOf(t, res, canonical.EntPolicyNumber)
	assert.Equal(t, "12-3456789", policy.ValueRedacted)
	assert.True(t, policy.DirectoryMiss, "unknown policy keeps the entity flagged")

	date := entityOf(t, res, canonical.EntDate)
	assert.Equal(t, "2024-06-01", date.ValueRedacted)

	loc := entityOf(t, res, canonical.EntLocation)
	assert.Equal(t, "Graz", loc.ValueRedacted)
	assert.False(t, res.FailClosed)
}

func TestLocationOffsetsSurviveCaseFolding(t *testing.T) {
	x := &extract.Extractor{Snapshot: snapshot(), Directory: directory.NewFixture()}
	// İ lowercases to a shorter byte sequence; the provenance offsets
	// must still index the original body.
	body := "zur İmmobilie: der Schaden war in München am Dach."
	res, err := x.Extract(context.Background(), extract.Input{Message: message("Schaden", body)})
	require.NoError(t, err)

	loc := entityOf(t, res, canonical.EntLocation)
	assert.Equal(t, "München", loc.ValueRedacted)
	assert.Equal(t, "münchen", strings.ToLower(body[loc.Provenance.Start:loc.Provenance.End]))
}

func TestIBANRedactedStoreMode(t *testing.T) {
	x := &extract.Extractor{Snapshot: snapshot(), Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Rückzahlung", "bitte auf DE89370400440532013000 überweisen."),
	})
	require.NoError(t, err)

	iban := entityOf(t, res, canonical.EntIBAN)
	assert.Equal(t, "DE89…3000", iban.ValueRedacted)
	assert.Nil(t, iban.StoreMode)
	require.NotNil(t, iban.ValueSHA256)
	assert.NotContains(t, iban.ValueRedacted, "0532013")
}

func TestIBANHashOnlyStoreMode(t *testing.T) {
	snap := snapshot()
	snap.Extraction.IBANPolicy.StoreMode = config.IBANStoreHashOnly
	x := &extract.Extractor{Snapshot: snap, Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Rückzahlung", "bitte auf DE89370400440532013000 überweisen."),
	})
	require.NoError(t, err)

	iban := entityOf(t, res, canonical.EntIBAN)
	assert.Equal(t, "DE…", iban.ValueRedacted)
	require.NotNil(t, iban.StoreMode)
	assert.Equal(t, extract.StoreHashOnly, *iban.StoreMode)
}

func TestIBANChecksumRejected(t *testing.T) {
	x := &extract.Extractor{Snapshot: snapshot(), Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Rückzahlung", "bitte auf DE00370400440532013000 überweisen."),
	})
	require.NoError(t, err)

	for _, e := range res.Entities {
		assert.NotEqual(t, canonical.EntIBAN, e.Type)
	}
}

func TestIBANGatingDisabled(t *testing.T) {
	snap := snapshot()
	snap.Extraction.IBANPolicy.Enabled = false
	x := &extract.Extractor{Snapshot: snap, Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Rückzahlung", "bitte auf DE89370400440532013000 überweisen."),
	})
	require.NoError(t, err)

	for _, e := range res.Entities {
		assert.NotEqual(t, canonical.EntIBAN, e.Type)
	}
}

func TestDirectoryOutageFailsClosed(t *testing.T) {
	dir := directory.NewFixture()
	dir.SetDown(true)
	x := &extract.Extractor{Snapshot: snapshot(), Directory: dir}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Schadenmeldung CLM-2024-0042", "details folgen."),
	})
	require.NoError(t, err)

	assert.True(t, res.FailClosed)
	require.NotNil(t, res.FailClosedReason)
	assert.Equal(t, "directory_unreachable", *res.FailClosedReason)
	// The pattern-valid entity is still reported for review.
	entityOf(t, res, canonical.EntClaimNumber)
}

func TestDocumentTypeFromCleanImage(t *testing.T) {
	x := &extract.Extractor{Snapshot: snapshot(), Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Sturmschaden", "fotos anbei"),
		Attachments: []attachments.Record{
			{AttachmentID: "att-1", MIMEType: "image/jpeg", AV: attachments.AV{Status: canonical.AVClean}},
			{AttachmentID: "att-2", MIMEType: "image/png", AV: attachments.AV{Status: canonical.AVInfected}},
		},
	})
	require.NoError(t, err)

	doc := entityOf(t, res, canonical.EntDocumentType)
	assert.Equal(t, "DOC_PHOTO_EVIDENCE", doc.ValueRedacted)
	require.NotNil(t, doc.Provenance.AttachmentID)
	assert.Equal(t, "att-1", *doc.Provenance.AttachmentID)
}

func TestGatedImageNeverContributes(t *testing.T) {
	x := &extract.Extractor{Snapshot: snapshot(), Directory: directory.NewFixture()}
	res, err := x.Extract(context.Background(), extract.Input{
		Message: message("Sturmschaden", "fotos anbei"),
		Attachments: []attachments.Record{
			{AttachmentID: "att-1", MIMEType: "image/jpeg", AV: attachments.AV{Status: canonical.AVSuspicious}},
		},
	})
	require.NoError(t, err)

	for _, e := range res.Entities {
		assert.NotEqual(t, canonical.EntDocumentType, e.Type)
	}
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, extract.ValidIBAN("DE89370400440532013000"))
	assert.True(t, extract.ValidIBAN("AT611904300234573201"))
	assert.False(t, extract.ValidIBAN("DE89370400440532013001"))
	assert.False(t, extract.ValidIBAN("DE8937"))
}
