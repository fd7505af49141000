package quiethours

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"relay/internal/filter"
	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/models"
)

type Status struct {
	IsQuiet bool
	Reason  string
	EndsAt  time.Time
}

type Enqueued struct {
	Queued       bool
	ScheduledFor time.Time
	DelayMinutes int
}

// Gate decides whether a tenant is inside its quiet window and defers deliveries that are.
type Gate struct {
	settings SettingsStore
	queue    Queue
	logger   logger.Logger
	now      func() time.Time
}

func NewGate(settings SettingsStore, queue Queue, log logger.Logger) *Gate {
	return &Gate{
		settings: settings,
		queue:    queue,
		logger:   log,
		now:      time.Now,
	}
}

// IsQuietNow never fails the caller: missing settings, lookup errors and invalid
// settings all mean "not quiet".
func (g *Gate) IsQuietNow(ctx context.Context, tenantID string) (Status, error) {
	settings, err := g.settings.GetSettings(ctx, tenantID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			metrics.FallbackUsageTotal.WithLabelValues("quiet_hours", "fail_open", "settings_lookup").Inc()
			g.logger.WarnwCtx(ctx, "Quiet hours lookup failed, treating tenant as not quiet",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		return Status{}, nil
	}

	status, err := Evaluate(*settings, g.now())
	if err != nil {
		g.logger.WarnwCtx(ctx, "Invalid quiet hours settings, treating tenant as not quiet",
			"tenant_id", tenantID,
			"error", err,
		)
		return Status{}, nil
	}
	return status, nil
}

// Evaluate reports whether now falls inside the settings' window. Windows may wrap
// midnight; start == end is an empty window.
func Evaluate(settings models.QuietHoursSettings, now time.Time) (Status, error) {
	if !settings.Enabled {
		return Status{}, nil
	}

	tz := settings.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Status{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	start, err := filter.ParseClock(settings.Start)
	if err != nil {
		return Status{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := filter.ParseClock(settings.End)
	if err != nil {
		return Status{}, fmt.Errorf("invalid end: %w", err)
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if !inWindow(minute, start, end) {
		return Status{}, nil
	}

	endsAt := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !endsAt.After(local) {
		endsAt = endsAt.AddDate(0, 0, 1)
	}

	return Status{
		IsQuiet: true,
		Reason:  fmt.Sprintf("quiet hours %s-%s %s", settings.Start, settings.End, tz),
		EndsAt:  endsAt.UTC(),
	}, nil
}

func inWindow(minute, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// EnqueueDelayed persists item for delivery at item.ScheduledFor.
func (g *Gate) EnqueueDelayed(ctx context.Context, item models.QueuedNotification) (Enqueued, error) {
	now := g.now()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now.UTC()
	}
	if item.ScheduledFor.IsZero() {
		return Enqueued{}, apperrors.ErrValidation.WithDetail("message", "delayed notification has no schedule")
	}

	if err := g.queue.Enqueue(ctx, item); err != nil {
		metrics.IncDelayedQueue("enqueue_error")
		return Enqueued{}, err
	}
	metrics.IncDelayedQueue("enqueue")

	delay := item.ScheduledFor.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return Enqueued{
		Queued:       true,
		ScheduledFor: item.ScheduledFor,
		DelayMinutes: int(math.Ceil(delay.Minutes())),
	}, nil
}
