package tenant

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

func TestPostgresStore_FindByCompanyID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, name, status, plan_tier\s+FROM tenants\s+WHERE company_id = \$1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "plan_tier"}).
			AddRow("t-1", "Acme", "active", "pro"))

	got, err := store.FindByCompanyID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, &models.Tenant{ID: "t-1", Name: "Acme", Status: models.TenantStatusActive, PlanTier: "pro"}, got)

	mock.ExpectQuery(`WHERE company_id = \$1\s+ORDER BY \(status = 'active'\) DESC`).
		WithArgs("c-churned").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "plan_tier"}).
			AddRow("t-9", "Gone", "inactive", "free"))

	churned, err := store.FindByCompanyID(ctx, "c-churned")
	require.NoError(t, err)
	assert.False(t, churned.IsActive())

	mock.ExpectQuery(`FROM tenants`).WithArgs("c-2").WillReturnError(sql.ErrNoRows)
	_, err = store.FindByCompanyID(ctx, "c-2")
	assert.True(t, apperrors.IsNotFound(err))

	mock.ExpectQuery(`FROM tenants`).WithArgs("c-3").WillReturnError(errors.New("connection reset"))
	_, err = store.FindByCompanyID(ctx, "c-3")
	require.Error(t, err)
	assert.False(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByDomain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE lower\(api_domain\) = lower\(\$1\)`).
		WithArgs("acme.crm.example", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "plan_tier"}).
			AddRow("t-2", "Acme", "active", "free"))

	got, err := NewPostgresStore(db).FindByDomain(context.Background(), "acme.crm.example", "")
	require.NoError(t, err)
	assert.Equal(t, "t-2", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "plan_tier"}).
			AddRow("t-1", "A", "active", "free").
			AddRow("t-2", "B", "active", "pro"))

	got, err := NewPostgresStore(db).ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
