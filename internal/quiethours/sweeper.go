package quiethours

import (
	"context"
	"time"

	"relay/internal/audit"
	"relay/internal/delivery"
	"relay/internal/logger"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/retry"
	"relay/pkg/tracing"
)

type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

type UsageTracker interface {
	TrackUsage(ctx context.Context, tenantID string, n int64) error
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

type SweeperConfig struct {
	BatchSize     int
	MaxAttempts   int
	MaxAge        time.Duration
	Lease         time.Duration
	RetryInterval time.Duration
	MaxRetryDelay time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 48 * time.Hour
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = time.Hour
	}
	return c
}

type SweepStats struct {
	Fetched     int
	Delivered   int
	Rescheduled int
	Expired     int
}

// Sweeper re-offers due delayed notifications to the delivery pipeline.
type Sweeper struct {
	queue     Queue
	deliverer Deliverer
	usage     UsageTracker
	audit     AuditRecorder
	cfg       SweeperConfig
	logger    logger.Logger
	now       func() time.Time
}

func NewSweeper(queue Queue, deliverer Deliverer, usage UsageTracker, recorder AuditRecorder, cfg SweeperConfig, log logger.Logger) *Sweeper {
	return &Sweeper{
		queue:     queue,
		deliverer: deliverer,
		usage:     usage,
		audit:     recorder,
		cfg:       cfg.withDefaults(),
		logger:    log,
		now:       time.Now,
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	ctx, span := tracing.StartStage(ctx, "quiethours.sweep")
	defer span.End()

	var stats SweepStats
	now := s.now()

	items, err := s.queue.FetchDue(ctx, now, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		tracing.RecordError(span, err)
		return stats, err
	}
	stats.Fetched = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		switch s.process(ctx, item, now) {
		case sweepDelivered:
			stats.Delivered++
		case sweepRescheduled:
			stats.Rescheduled++
		case sweepExpired:
			stats.Expired++
		}
	}

	if stats.Fetched > 0 {
		s.logger.InfowCtx(ctx, "Delayed notification sweep finished",
			"fetched", stats.Fetched,
			"delivered", stats.Delivered,
			"rescheduled", stats.Rescheduled,
			"expired", stats.Expired,
		)
	}
	return stats, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorwCtx(ctx, "Delayed notification sweep failed", "error", err)
			}
		}
	}
}

type sweepResult int

const (
	sweepSkipped sweepResult = iota
	sweepDelivered
	sweepRescheduled
	sweepExpired
)

func (s *Sweeper) process(ctx context.Context, item models.QueuedNotification, now time.Time) sweepResult {
	if item.Attempts >= s.cfg.MaxAttempts || now.Sub(item.CreatedAt) > s.cfg.MaxAge {
		return s.expire(ctx, item, nil, "delayed notification expired before delivery")
	}

	evt, err := item.Event()
	if err != nil {
		return s.expire(ctx, item, nil, "stored event is unreadable: "+err.Error())
	}

	result := s.deliverer.Deliver(ctx, delivery.Request{
		Rule: models.Rule{
			ID:           item.RuleID,
			TenantID:     item.TenantID,
			TemplateMode: item.TemplateMode,
		},
		Event: evt,
		Channel: models.Channel{
			ID:       item.ChannelID,
			TenantID: item.TenantID,
			URL:      item.ChannelURL,
			Active:   true,
		},
		TenantID: item.TenantID,
	})

	if result.Delivered() {
		if err := s.queue.Delete(ctx, item.ID); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to delete delivered delayed notification",
				"id", item.ID,
				"error", err,
			)
		}
		if err := s.usage.TrackUsage(ctx, item.TenantID, 1); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to track usage for delayed notification",
				"tenant_id", item.TenantID,
				"error", err,
			)
		}
		s.audit.Record(ctx, audit.Entry{
			TenantID:         item.TenantID,
			RuleID:           item.RuleID,
			ChannelID:        result.ChannelID,
			EventType:        evt.EventType,
			Payload:          item.Payload,
			FormattedMessage: result.Send.Text,
			Status:           audit.StatusSuccess,
			Reason:           audit.ReasonQuietHours,
			ResponseCode:     result.Send.StatusCode,
			ResponseTimeMs:   result.Send.Latency.Milliseconds(),
			RetryCount:       item.Attempts,
			Tier:             result.Tier,
		})
		metrics.IncDelayedQueue("delivered")
		return sweepDelivered
	}

	attempts := item.Attempts + 1
	if attempts >= s.cfg.MaxAttempts {
		return s.expire(ctx, item, &result, "delivery failed on every attempt")
	}

	next := now.Add(retry.CalculateBackoffDuration(attempts-1, s.cfg.RetryInterval, 2.0, s.cfg.MaxRetryDelay))
	if err := s.queue.Reschedule(ctx, item.ID, next, attempts); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reschedule delayed notification",
			"id", item.ID,
			"error", err,
		)
		return sweepSkipped
	}
	metrics.IncDelayedQueue("rescheduled")
	s.logger.WarnwCtx(ctx, "Delayed notification rescheduled",
		"id", item.ID,
		"attempts", attempts,
		"next_attempt", next,
		"outcome", result.Outcome,
	)
	return sweepRescheduled
}

func (s *Sweeper) expire(ctx context.Context, item models.QueuedNotification, result *delivery.Result, msg string) sweepResult {
	if err := s.queue.Delete(ctx, item.ID); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to delete expired delayed notification",
			"id", item.ID,
			"error", err,
		)
		return sweepSkipped
	}

	entry := audit.Entry{
		TenantID:     item.TenantID,
		RuleID:       item.RuleID,
		ChannelID:    item.ChannelID,
		EventType:    eventType(item),
		Payload:      item.Payload,
		Status:       audit.StatusFailed,
		Reason:       audit.ReasonDelayedExpired,
		ErrorMessage: msg,
		RetryCount:   item.Attempts,
	}
	if result != nil && result.Err != nil {
		entry.ErrorMessage = msg + ": " + result.Err.Error()
	}
	s.audit.Record(ctx, entry)

	metrics.IncDelayedQueue("expired")
	s.logger.WarnwCtx(ctx, "Delayed notification dropped",
		"id", item.ID,
		"tenant_id", item.TenantID,
		"attempts", item.Attempts,
		"reason", msg,
	)
	return sweepExpired
}

func eventType(item models.QueuedNotification) string {
	evt, err := item.Event()
	if err != nil {
		return ""
	}
	return evt.EventType
}
