package quiethours

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

type SettingsStore interface {
	GetSettings(ctx context.Context, tenantID string) (*models.QuietHoursSettings, error)
}

type Queue interface {
	Enqueue(ctx context.Context, item models.QueuedNotification) error
	// FetchDue claims up to limit items scheduled at or before now. Claimed items are
	// hidden from other sweepers until lease expires.
	FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.QueuedNotification, error)
	Delete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, at time.Time, attempts int) error
}

type PostgresSettingsStore struct {
	db *sql.DB
}

func NewPostgresSettingsStore(db *sql.DB) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

func (s *PostgresSettingsStore) GetSettings(ctx context.Context, tenantID string) (*models.QuietHoursSettings, error) {
	query := `
		SELECT tenant_id, enabled, start_time, end_time, timezone
		FROM quiet_hours_settings
		WHERE tenant_id = $1
	`

	var settings models.QuietHoursSettings
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.Enabled,
		&settings.Start,
		&settings.End,
		&settings.Timezone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("tenant_id", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet hours settings: %w", err)
	}

	return &settings, nil
}

type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, item models.QueuedNotification) error {
	query := `
		INSERT INTO delayed_notifications (
			id, tenant_id, rule_id, channel_id, channel_url, template_mode, payload,
			scheduled_for, reason, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := q.db.ExecContext(ctx, query,
		item.ID,
		item.TenantID,
		item.RuleID,
		item.ChannelID,
		item.ChannelURL,
		string(item.TemplateMode),
		[]byte(item.Payload),
		item.ScheduledFor,
		item.Reason,
		item.Attempts,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delayed notification: %w", err)
	}
	return nil
}

func (q *PostgresQueue) FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.QueuedNotification, error) {
	query := `
		UPDATE delayed_notifications
		SET locked_until = $2
		WHERE id IN (
			SELECT id FROM delayed_notifications
			WHERE scheduled_for <= $1 AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY scheduled_for ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, rule_id, channel_id, channel_url, template_mode, payload,
		          scheduled_for, reason, attempts, created_at
	`

	rows, err := q.db.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due notifications: %w", err)
	}
	defer rows.Close()

	var items []models.QueuedNotification
	for rows.Next() {
		var (
			item    models.QueuedNotification
			payload []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.TenantID,
			&item.RuleID,
			&item.ChannelID,
			&item.ChannelURL,
			&item.TemplateMode,
			&payload,
			&item.ScheduledFor,
			&item.Reason,
			&item.Attempts,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delayed notification: %w", err)
		}
		item.Payload = payload
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func (q *PostgresQueue) Delete(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM delayed_notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete delayed notification: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Reschedule(ctx context.Context, id string, at time.Time, attempts int) error {
	query := `
		UPDATE delayed_notifications
		SET scheduled_for = $2, attempts = $3, locked_until = NULL
		WHERE id = $1
	`
	if _, err := q.db.ExecContext(ctx, query, id, at, attempts); err != nil {
		return fmt.Errorf("failed to reschedule delayed notification: %w", err)
	}
	return nil
}
