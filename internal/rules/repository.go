package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"relay/pkg/models"
)

type Store interface {
	// GetRulesForEvent returns the tenant's enabled rules whose pattern equals pattern.
	GetRulesForEvent(ctx context.Context, tenantID, pattern string) ([]models.Rule, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetRulesForEvent(ctx context.Context, tenantID, pattern string) ([]models.Rule, error) {
	query := `
		SELECT id, tenant_id, name, event_pattern, filter, target_channel_id, default_channel_id,
		       template_mode, custom_template, enabled, priority, created_at, updated_at
		FROM notification_rules
		WHERE tenant_id = $1 AND event_pattern = $2 AND enabled = true
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			rule          models.Rule
			filter        []byte
			targetChannel sql.NullString
			defaultChan   sql.NullString
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.TenantID,
			&rule.Name,
			&rule.EventPattern,
			&filter,
			&targetChannel,
			&defaultChan,
			&rule.TemplateMode,
			&rule.CustomTemplate,
			&rule.Enabled,
			&rule.Priority,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if len(filter) > 0 {
			if err := json.Unmarshal(filter, &rule.Filter); err != nil {
				return nil, fmt.Errorf("failed to decode filter for rule %s: %w", rule.ID, err)
			}
		}
		if targetChannel.Valid && targetChannel.String != "" {
			v := targetChannel.String
			rule.TargetChannelID = &v
		}
		if defaultChan.Valid && defaultChan.String != "" {
			v := defaultChan.String
			rule.DefaultChannelID = &v
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}
