package quiethours

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

func TestPostgresSettingsStore_GetSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM quiet_hours_settings\s+WHERE tenant_id = \$1`).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "enabled", "start_time", "end_time", "timezone"}).
			AddRow("t-1", true, "22:00", "08:00", "Europe/Berlin"))
	mock.ExpectQuery(`FROM quiet_hours_settings`).
		WithArgs("t-2").
		WillReturnError(sql.ErrNoRows)

	store := NewPostgresSettingsStore(db)

	got, err := store.GetSettings(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.True(t, got.Enabled)

	_, err = store.GetSettings(context.Background(), "t-2")
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_FetchDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE delayed_notifications\s+SET locked_until = \$2[\s\S]+FOR UPDATE SKIP LOCKED`).
		WithArgs(now, now.Add(time.Minute), 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "rule_id", "channel_id", "channel_url", "template_mode", "payload",
			"scheduled_for", "reason", "attempts", "created_at",
		}).AddRow("q-1", "t-1", "r-1", "ch-1", "https://hooks.example.com/1", "simple",
			[]byte(`{"event":"deal.updated","current":{}}`), now, "quiet hours", 1, now.Add(-time.Hour)))

	items, err := NewPostgresQueue(db).FetchDue(context.Background(), now, 50, time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.TemplateSimple, items[0].TemplateMode)
	assert.Equal(t, 1, items[0].Attempts)

	evt, err := items[0].Event()
	require.NoError(t, err)
	assert.Equal(t, "deal.updated", evt.EventType)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_RescheduleAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE delayed_notifications\s+SET scheduled_for = \$2, attempts = \$3, locked_until = NULL`).
		WithArgs("q-1", at, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM delayed_notifications WHERE id = \$1`).
		WithArgs("q-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := NewPostgresQueue(db)
	require.NoError(t, q.Reschedule(context.Background(), "q-1", at, 2))
	require.NoError(t, q.Delete(context.Background(), "q-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
