package quota

import (
	"context"
	"fmt"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/tracing"
)

type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

const (
	DefaultWarningPercent  = 75.0
	DefaultCriticalPercent = 90.0
)

type Decision struct {
	Allowed    bool
	Usage      int64
	Limit      int64
	Percentage float64
	Level      Level
}

type Config struct {
	WarningPercent  float64
	CriticalPercent float64
}

// Gate enforces the tenant's per-period notification budget. Levels are advisory; only
// Allowed gates delivery.
type Gate struct {
	store  Store
	cfg    Config
	logger logger.Logger
}

func NewGate(store Store, cfg Config, log logger.Logger) *Gate {
	if cfg.WarningPercent <= 0 {
		cfg.WarningPercent = DefaultWarningPercent
	}
	if cfg.CriticalPercent <= 0 {
		cfg.CriticalPercent = DefaultCriticalPercent
	}
	return &Gate{store: store, cfg: cfg, logger: log}
}

// CheckQuota reports whether n more notifications fit in the tenant's budget. A lookup
// failure denies the request and returns the error.
func (g *Gate) CheckQuota(ctx context.Context, tenantID string, n int64) (Decision, error) {
	ctx, span := tracing.StartStage(ctx, "quota.check")
	defer span.End()

	counter, err := g.store.GetCounter(ctx, tenantID)
	if err != nil {
		metrics.IncQuotaCheck("error", "")
		tracing.RecordError(span, err)
		g.logger.ErrorwCtx(ctx, "Quota lookup failed, denying", "error", err)
		return Decision{Allowed: false}, fmt.Errorf("quota lookup: %w", err)
	}

	d := Decision{
		Allowed:    counter.PeriodUsage+n <= counter.PeriodLimit,
		Usage:      counter.PeriodUsage,
		Limit:      counter.PeriodLimit,
		Percentage: counter.Percentage(),
	}
	d.Level = g.level(d.Percentage)

	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	metrics.IncQuotaCheck(result, string(d.Level))

	if d.Level != LevelNormal {
		g.logger.WarnwCtx(ctx, "Tenant quota usage high",
			"usage", d.Usage,
			"limit", d.Limit,
			"percentage", d.Percentage,
			"level", d.Level,
		)
	}

	return d, nil
}

// TrackUsage records n delivered notifications. Call only after a confirmed delivery.
func (g *Gate) TrackUsage(ctx context.Context, tenantID string, n int64) error {
	if n <= 0 {
		return apperrors.ErrValidation.WithDetail("message", "usage increment must be positive")
	}
	if err := g.store.Increment(ctx, tenantID, n); err != nil {
		return fmt.Errorf("track usage: %w", err)
	}
	return nil
}

func (g *Gate) level(pct float64) Level {
	switch {
	case pct >= g.cfg.CriticalPercent:
		return LevelCritical
	case pct >= g.cfg.WarningPercent:
		return LevelWarning
	default:
		return LevelNormal
	}
}
