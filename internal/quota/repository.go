package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

type Store interface {
	GetCounter(ctx context.Context, tenantID string) (*models.QuotaCounter, error)
	// Increment adds n to the tenant's period usage in a single statement.
	Increment(ctx context.Context, tenantID string, n int64) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetCounter(ctx context.Context, tenantID string) (*models.QuotaCounter, error) {
	query := `
		SELECT tenant_id, period_usage, period_limit
		FROM tenant_quotas
		WHERE tenant_id = $1
	`

	var c models.QuotaCounter
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&c.TenantID, &c.PeriodUsage, &c.PeriodLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("tenant_id", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query quota counter: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Increment(ctx context.Context, tenantID string, n int64) error {
	query := `
		UPDATE tenant_quotas
		SET period_usage = period_usage + $2
		WHERE tenant_id = $1
	`

	res, err := s.db.ExecContext(ctx, query, tenantID, n)
	if err != nil {
		return fmt.Errorf("failed to increment quota usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetail("tenant_id", tenantID)
	}
	return nil
}
