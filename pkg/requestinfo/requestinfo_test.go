package requestinfo_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/requestinfo"
)

func TestGermanDraftGolden(t *testing.T) {
	d, err := requestinfo.Generate(requestinfo.Input{
		MessageID:       "m-1",
		RunID:           "r-1",
		Language:        "de",
		OriginalSubject: "Schadenmeldung",
		MissingFields:   []string{requestinfo.FieldPolicyNumber},
	})
	require.NoError(t, err)

	assert.Equal(t, "de", d.Language)
	assert.Equal(t, "Rückfrage zu Ihrer Nachricht: Schadenmeldung", d.Subject)
	g := goldie.New(t)
	g.Assert(t, "draft_de_policy", []byte(d.Body))
}

func TestEnglishDraftGolden(t *testing.T) {
	d, err := requestinfo.Generate(requestinfo.Input{
		MessageID:       "m-1",
		RunID:           "r-1",
		Language:        "en",
		OriginalSubject: "Claim notice",
		MissingFields:   []string{requestinfo.FieldClaimNumber, requestinfo.FieldCustomerNumber},
	})
	require.NoError(t, err)

	assert.Equal(t, "Request for information: Claim notice", d.Subject)
	g := goldie.New(t)
	g.Assert(t, "draft_en_claim_customer", []byte(d.Body))
}

func TestUnsupportedLanguageFallsBackToGerman(t *testing.T) {
	d, err := requestinfo.Generate(requestinfo.Input{
		MessageID:       "m-1",
		RunID:           "r-1",
		Language:        "fr",
		OriginalSubject: "Question",
		MissingFields:   []string{requestinfo.FieldPolicyNumber},
	})
	require.NoError(t, err)
	assert.Equal(t, "de", d.Language)
}

func TestRejectsEmptyAndUnknownFields(t *testing.T) {
	_, err := requestinfo.Generate(requestinfo.Input{
		MessageID: "m-1", RunID: "r-1", Language: "de", OriginalSubject: "x",
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = requestinfo.Generate(requestinfo.Input{
		MessageID: "m-1", RunID: "r-1", Language: "de", OriginalSubject: "x",
		MissingFields: []string{"iban"},
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
