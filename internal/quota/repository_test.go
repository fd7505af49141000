package quota

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "relay/pkg/errors"
)

func TestPostgresStore_GetCounter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(`SELECT tenant_id, period_usage, period_limit\s+FROM tenant_quotas`).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "period_usage", "period_limit"}).AddRow("t-1", 99, 100))

	c, err := store.GetCounter(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), c.PeriodUsage)
	assert.Equal(t, int64(100), c.PeriodLimit)

	mock.ExpectQuery(`FROM tenant_quotas`).WithArgs("t-2").WillReturnError(sql.ErrNoRows)
	_, err = store.GetCounter(context.Background(), "t-2")
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementIsSingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(`UPDATE tenant_quotas\s+SET period_usage = period_usage \+ \$2\s+WHERE tenant_id = \$1`).
		WithArgs("t-1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Increment(context.Background(), "t-1", 1))

	mock.ExpectExec(`UPDATE tenant_quotas`).
		WithArgs("t-missing", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = store.Increment(context.Background(), "t-missing", 1)
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
