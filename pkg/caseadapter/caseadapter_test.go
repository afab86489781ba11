package caseadapter_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/caseadapter"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/route"
)

func message() *normalize.Message {
	return &normalize.Message{
		MessageID:     "m-1",
		RunID:         "r-1",
		SubjectC14N:   "Schadenmeldung",
		Fingerprint:   "sha256:" + strings.Repeat("a", 64),
		RawMIMESHA256: "sha256:" + strings.Repeat("b", 64),
	}
}

func decision(actions ...canonical.Action) *route.Decision {
	version := "2024.6.0"
	return &route.Decision{
		QueueID:     canonical.QueueClaimsAuto,
		RuleID:      "R_CLAIMS_AUTO",
		RuleVersion: &version,
		Actions:     actions,
	}
}

func TestCreateAttachAndIdempotentReplay(t *testing.T) {
	fixture := caseadapter.NewFixture()
	stage := &caseadapter.Stage{Adapter: fixture}
	in := caseadapter.Input{
		Message: message(),
		Decision: decision(
			canonical.ActionCreateCase,
			canonical.ActionAttachOriginalEmail,
			canonical.ActionAttachAllFiles,
		),
		Attachments: []attachments.Record{
			{AttachmentID: "att-1", SHA256: "sha256:" + strings.Repeat("c", 64)},
		},
	}

	res, err := stage.Apply(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, res.CaseID)
	assert.False(t, res.Blocked)

	c := fixture.Case(res.CaseID)
	require.NotNil(t, c)
	assert.Equal(t, "Schadenmeldung", c.Title)
	assert.Len(t, c.Artifacts, 2)

	// Redelivery applies nothing twice.
	res2, err := stage.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, res.CaseID, res2.CaseID)
	assert.Equal(t, 1, fixture.Cases())
	assert.Len(t, fixture.Case(res.CaseID).Artifacts, 2)
}

func TestBlockCaseCreateShortCircuits(t *testing.T) {
	fixture := caseadapter.NewFixture()
	stage := &caseadapter.Stage{Adapter: fixture}
	res, err := stage.Apply(context.Background(), caseadapter.Input{
		Message:  message(),
		Decision: decision(canonical.ActionBlockCaseCreate, canonical.ActionCreateCase),
	})
	require.NoError(t, err)

	assert.True(t, res.Blocked)
	assert.Empty(t, res.CaseID)
	assert.Equal(t, 0, fixture.Cases())
}

func TestMissingRequestInfoDraftIsValidationFault(t *testing.T) {
	stage := &caseadapter.Stage{Adapter: caseadapter.NewFixture()}
	_, err := stage.Apply(context.Background(), caseadapter.Input{
		Message:  message(),
		Decision: decision(canonical.ActionCreateCase, canonical.ActionAddRequestInfoDraft),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestIdempotencyKeyIsTimestampFree(t *testing.T) {
	k1 := caseadapter.IdempotencyKey("sha256:abc", "R_X", "1.0.0", "CREATE_CASE")
	k2 := caseadapter.IdempotencyKey("sha256:abc", "R_X", "1.0.0", "CREATE_CASE")
	k3 := caseadapter.IdempotencyKey("sha256:abc", "R_X", "1.0.0", "ATTACH_ORIGINAL_EMAIL")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "idem:"))
	assert.Len(t, strings.TrimPrefix(k1, "idem:"), 64)
}
