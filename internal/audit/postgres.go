package audit

import (
	"context"
	"database/sql"
	"fmt"

	"relay/internal/constants"
)

type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string {
	return constants.AuditBackendPostgres
}

func (s *PostgresSink) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO notification_logs (
			id, tenant_id, rule_id, channel_id, event_type, payload, formatted_message,
			status, reason, error_message, response_code, response_time_ms, retry_count,
			tier, scheduled_for, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	var payload interface{}
	if len(entry.Payload) > 0 {
		payload = []byte(entry.Payload)
	}

	var scheduledFor interface{}
	if entry.ScheduledFor != nil {
		scheduledFor = *entry.ScheduledFor
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.TenantID),
		nullString(entry.RuleID),
		nullString(entry.ChannelID),
		entry.EventType,
		payload,
		nullString(entry.FormattedMessage),
		string(entry.Status),
		nullString(entry.Reason),
		nullString(entry.ErrorMessage),
		nullInt(int64(entry.ResponseCode)),
		nullInt(entry.ResponseTimeMs),
		entry.RetryCount,
		nullInt(int64(entry.Tier)),
		scheduledFor,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
