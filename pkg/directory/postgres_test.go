package directory_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/fault"
)

func TestPostgresLookupPolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := directory.NewPostgresDB(db)

	rows := sqlmock.NewRows([]string{"policy_number", "status", "customer_id"}).
		AddRow("POL-2024-00012345", "ACTIVE", "KD-123456")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT policy_number, status, customer_id FROM policies WHERE policy_number = $1")).
		WithArgs("POL-2024-00012345").
		WillReturnRows(rows)

	entry, err := adapter.LookupPolicy(context.Background(), "POL-2024-00012345")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, canonical.EntityPolicy, entry.EntityType)
	assert.Equal(t, directory.StatusActive, entry.Status)
	assert.Equal(t, "KD-123456", entry.CustomerID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupMissIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := directory.NewPostgresDB(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT claim_number, status, customer_id FROM claims WHERE claim_number = $1")).
		WithArgs("CLM-2024-0042").
		WillReturnRows(sqlmock.NewRows([]string{"claim_number", "status", "customer_id"}))

	entry, err := adapter.LookupClaim(context.Background(), "CLM-2024-0042")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

// A replica outage must surface as a retryable dependency fault, not as
// an identity verdict. The pipeline fails the chain closed on it.
func TestPostgresQueryFailureIsDependencyFault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := directory.NewPostgresDB(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT customer_id, status, '' FROM customers WHERE customer_id = $1")).
		WithArgs("KD-123456").
		WillReturnError(errors.New("connection refused"))

	_, err = adapter.LookupCustomer(context.Background(), "KD-123456")
	require.Error(t, err)
	assert.Equal(t, fault.KindDependencyUnavailable, fault.KindOf(err))
	assert.True(t, fault.Retryable(err))
}
