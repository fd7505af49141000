package routing

import (
	"context"
	"database/sql"
	"fmt"

	"relay/pkg/models"
)

type ChannelStore interface {
	// GetChannels returns the tenant's active channels, oldest first.
	GetChannels(ctx context.Context, tenantID string) ([]models.Channel, error)
}

type PostgresChannelStore struct {
	db *sql.DB
}

func NewPostgresChannelStore(db *sql.DB) *PostgresChannelStore {
	return &PostgresChannelStore{db: db}
}

func (s *PostgresChannelStore) GetChannels(ctx context.Context, tenantID string) ([]models.Channel, error) {
	query := `
		SELECT id, tenant_id, name, webhook_url, active
		FROM chat_channels
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TenantID, &ch.Name, &ch.URL, &ch.Active); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return channels, nil
}
