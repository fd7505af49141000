package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

// Store looks tenants up by the identifiers a CRM event carries.
type Store interface {
	// FindByCompanyID and FindByDomain return inactive tenants too, so a churned tenant is
	// identified rather than mistaken for an unknown one.
	FindByCompanyID(ctx context.Context, companyID string) (*models.Tenant, error)
	FindByDomain(ctx context.Context, domain, accountID string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, status, plan_tier`

func (s *PostgresStore) FindByCompanyID(ctx context.Context, companyID string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + `
		FROM tenants
		WHERE company_id = $1
		ORDER BY (status = 'active') DESC, created_at ASC
		LIMIT 1`

	return s.queryOne(ctx, query, companyID)
}

// FindByDomain matches on api_domain, narrowed by account_id when the event carries one.
// An active tenant wins over an inactive one sharing the domain.
func (s *PostgresStore) FindByDomain(ctx context.Context, domain, accountID string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + `
		FROM tenants
		WHERE lower(api_domain) = lower($1)
		  AND ($2 = '' OR account_id = $2)
		ORDER BY (status = 'active') DESC, created_at ASC
		LIMIT 1`

	return s.queryOne(ctx, query, domain, accountID)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + `
		FROM tenants
		WHERE status = 'active'
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.PlanTier); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tenants, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...interface{}) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.Name, &t.Status, &t.PlanTier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}
	return &t, nil
}
