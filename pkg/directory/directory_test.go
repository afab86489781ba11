package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/fault"
)

func TestFixtureLookupHitAndMiss(t *testing.T) {
	f := directory.NewFixture()
	f.Add(directory.Entry{
		EntityType: canonical.EntityPolicy,
		EntityID:   "POL-2024-00012345",
		Status:     directory.StatusActive,
		CustomerID: "KD-123456",
	})

	ctx := context.Background()
	hit, err := f.LookupPolicy(ctx, "POL-2024-00012345")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, directory.StatusActive, hit.Status)
	assert.Equal(t, "KD-123456", hit.CustomerID)

	miss, err := f.LookupPolicy(ctx, "POL-2024-00099999")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestFixtureDownYieldsDependencyFault(t *testing.T) {
	f := directory.NewFixture()
	f.SetDown(true)

	_, err := f.LookupClaim(context.Background(), "CLM-2024-0042")
	require.Error(t, err)
	assert.Equal(t, fault.KindDependencyUnavailable, fault.KindOf(err))
}

func TestLookupDispatch(t *testing.T) {
	f := directory.NewFixture()
	f.Add(directory.Entry{
		EntityType: canonical.EntityCustomer,
		EntityID:   "KD-654321",
		Status:     directory.StatusClosed,
	})

	e, err := directory.Lookup(context.Background(), f, canonical.EntityCustomer, "KD-654321")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, directory.StatusClosed, e.Status)

	// Unmapped entity types are a miss, not an error.
	e, err = directory.Lookup(context.Background(), f, canonical.EntityBroker, "whatever")
	require.NoError(t, err)
	assert.Nil(t, e)
}
