package quiethours

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

type fakeSettings struct {
	settings *models.QuietHoursSettings
	err      error
}

func (f *fakeSettings) GetSettings(context.Context, string) (*models.QuietHoursSettings, error) {
	return f.settings, f.err
}

func nightly(tz string) models.QuietHoursSettings {
	return models.QuietHoursSettings{TenantID: "t-1", Enabled: true, Start: "22:00", End: "08:00", Timezone: tz}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		settings   models.QuietHoursSettings
		now        time.Time
		wantQuiet  bool
		wantEndsAt time.Time
	}{
		{
			name:       "late evening wraps to next morning",
			settings:   nightly("UTC"),
			now:        time.Date(2024, 5, 1, 23, 15, 0, 0, time.UTC),
			wantQuiet:  true,
			wantEndsAt: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name:       "early morning ends today",
			settings:   nightly("UTC"),
			now:        time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC),
			wantQuiet:  true,
			wantEndsAt: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "end is exclusive",
			settings:  nightly("UTC"),
			now:       time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
			wantQuiet: false,
		},
		{
			name:      "daytime",
			settings:  nightly("UTC"),
			now:       time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
			wantQuiet: false,
		},
		{
			name:       "tenant timezone",
			settings:   nightly("America/New_York"),
			now:        time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC), // 23:00 EDT
			wantQuiet:  true,
			wantEndsAt: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), // 08:00 EDT
		},
		{
			name:       "same day window",
			settings:   models.QuietHoursSettings{Enabled: true, Start: "12:00", End: "13:30"},
			now:        time.Date(2024, 5, 2, 12, 45, 0, 0, time.UTC),
			wantQuiet:  true,
			wantEndsAt: time.Date(2024, 5, 2, 13, 30, 0, 0, time.UTC),
		},
		{
			name:      "disabled",
			settings:  models.QuietHoursSettings{Enabled: false, Start: "00:00", End: "23:59"},
			now:       time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
			wantQuiet: false,
		},
		{
			name:      "empty window",
			settings:  models.QuietHoursSettings{Enabled: true, Start: "10:00", End: "10:00"},
			now:       time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
			wantQuiet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := Evaluate(tt.settings, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuiet, status.IsQuiet)
			if tt.wantQuiet {
				assert.True(t, tt.wantEndsAt.Equal(status.EndsAt), "ends at %s", status.EndsAt)
				assert.NotEmpty(t, status.Reason)
			}
		})
	}
}

func TestEvaluate_InvalidSettings(t *testing.T) {
	_, err := Evaluate(models.QuietHoursSettings{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Mars/Olympus"}, time.Now())
	assert.Error(t, err)

	_, err = Evaluate(models.QuietHoursSettings{Enabled: true, Start: "late", End: "08:00"}, time.Now())
	assert.Error(t, err)
}

func TestGate_IsQuietNow_FailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		settings *fakeSettings
	}{
		{name: "lookup error", settings: &fakeSettings{err: errors.New("connection refused")}},
		{name: "no settings", settings: &fakeSettings{err: apperrors.ErrNotFound}},
		{name: "bad timezone", settings: &fakeSettings{settings: &models.QuietHoursSettings{Enabled: true, Start: "00:00", End: "23:59", Timezone: "Nowhere/Else"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.settings, &fakeQueue{}, logger.NopLogger())
			status, err := g.IsQuietNow(context.Background(), "t-1")
			require.NoError(t, err)
			assert.False(t, status.IsQuiet)
		})
	}
}

func TestGate_IsQuietNow(t *testing.T) {
	s := nightly("UTC")
	g := NewGate(&fakeSettings{settings: &s}, &fakeQueue{}, logger.NopLogger())
	g.now = func() time.Time { return time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC) }

	status, err := g.IsQuietNow(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, status.IsQuiet)
}

func TestGate_EnqueueDelayed(t *testing.T) {
	queue := &fakeQueue{}
	g := NewGate(&fakeSettings{}, queue, logger.NopLogger())
	now := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	got, err := g.EnqueueDelayed(context.Background(), models.QueuedNotification{
		TenantID:     "t-1",
		RuleID:       "r-1",
		ScheduledFor: now.Add(9*time.Hour + 30*time.Second),
	})
	require.NoError(t, err)

	assert.True(t, got.Queued)
	assert.Equal(t, 9*60+1, got.DelayMinutes)
	require.Len(t, queue.items, 1)
	assert.NotEmpty(t, queue.items[0].ID)
	assert.Equal(t, now, queue.items[0].CreatedAt)
}

func TestGate_EnqueueDelayed_Errors(t *testing.T) {
	g := NewGate(&fakeSettings{}, &fakeQueue{enqueueErr: errors.New("insert failed")}, logger.NopLogger())

	_, err := g.EnqueueDelayed(context.Background(), models.QueuedNotification{ScheduledFor: time.Now().Add(time.Hour)})
	assert.Error(t, err)

	_, err = g.EnqueueDelayed(context.Background(), models.QueuedNotification{})
	assert.True(t, apperrors.IsValidation(err))
}
