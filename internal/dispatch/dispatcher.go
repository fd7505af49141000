package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"relay/internal/audit"
	"relay/internal/delivery"
	"relay/internal/logger"
	"relay/internal/quiethours"
	"relay/internal/quota"
	"relay/internal/routing"
	"relay/internal/rules"
	"relay/internal/tenant"
	apperrors "relay/pkg/errors"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

type Deduplicator interface {
	TryMark(ctx context.Context, correlationID, entityID, eventType string) bool
	MarkProcessed(ctx context.Context, correlationID, entityID, eventType string)
	Release(ctx context.Context, correlationID, entityID, eventType string)
}

type TenantResolver interface {
	Resolve(ctx context.Context, evt *models.InboundEvent) (tenant.Resolution, error)
}

type QuotaGate interface {
	CheckQuota(ctx context.Context, tenantID string, n int64) (quota.Decision, error)
	TrackUsage(ctx context.Context, tenantID string, n int64) error
}

type RuleMatcher interface {
	MatchRules(ctx context.Context, tenantID, eventType string) ([]models.Rule, rules.MatchPass, error)
}

type FilterEvaluator interface {
	Evaluate(rule models.Rule, evt *models.InboundEvent, now time.Time) (string, bool)
}

type QuietHours interface {
	IsQuietNow(ctx context.Context, tenantID string) (quiethours.Status, error)
	EnqueueDelayed(ctx context.Context, item models.QueuedNotification) (quiethours.Enqueued, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Deps are the collaborators of a Dispatcher. QuietHours may be nil.
type Deps struct {
	Dedup      Deduplicator
	Resolver   TenantResolver
	Quota      QuotaGate
	Matcher    RuleMatcher
	Filters    FilterEvaluator
	Router     *routing.Router
	Channels   routing.ChannelStore
	QuietHours QuietHours
	Delivery   Deliverer
	Audit      AuditRecorder
}

type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeUnresolvedTenant Outcome = "unresolved_tenant"
	OutcomeQuotaExceeded    Outcome = "quota_exceeded"
	OutcomeNoRules          Outcome = "no_rules"
	OutcomeFailed           Outcome = "failed"
)

type Summary struct {
	TenantID          string
	Strategy          tenant.Strategy
	RulesMatched      int
	NotificationsSent int
	Queued            int
	Skipped           int
	Failed            int
	Outcome           Outcome
}

type ruleOutcome int

const (
	ruleSent ruleOutcome = iota
	ruleQueued
	ruleSkipped
	ruleFailed
)

// Dispatcher runs one inbound event through dedup, tenant resolution, quota admission,
// rule matching and per-rule delivery. The dedup key claimed up front is released
// whenever Dispatch returns an error, so a redelivered event is processed again rather
// than suppressed as a duplicate.
type Dispatcher struct {
	deps   Deps
	logger logger.Logger
	now    func() time.Time
}

func NewDispatcher(deps Deps, log logger.Logger) *Dispatcher {
	if deps.Router == nil {
		deps.Router = routing.NewRouter()
	}
	return &Dispatcher{deps: deps, logger: log, now: time.Now}
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt *models.InboundEvent) (summary Summary, err error) {
	start := time.Now()
	ctx = logging.WithEventType(ctx, evt.EventType)
	if corr := evt.CorrelationID(); corr != "" {
		ctx = logging.WithCorrelationID(ctx, corr)
	}
	ctx, span := tracing.StartStage(ctx, "dispatch", attribute.String("event_type", evt.EventType))
	defer func() {
		span.SetAttributes(attribute.String("dispatch.outcome", string(summary.Outcome)))
		if err != nil {
			tracing.RecordError(span, err)
		}
		span.End()
		metrics.ObserveDispatch(string(summary.Outcome), time.Since(start))
	}()

	payload := audit.MarshalPayload(evt)
	corr, entity := evt.CorrelationID(), evt.EntityID()

	if !d.deps.Dedup.TryMark(ctx, corr, entity, evt.EventType) {
		summary.Outcome = OutcomeDuplicate
		if res, rerr := d.deps.Resolver.Resolve(ctx, evt); rerr == nil {
			summary.TenantID = res.TenantID
			summary.Strategy = res.Strategy
		}
		d.deps.Audit.Record(ctx, audit.Entry{
			TenantID:  summary.TenantID,
			EventType: evt.EventType,
			Payload:   payload,
			Status:    audit.StatusSkipped,
			Reason:    audit.ReasonDuplicate,
		})
		d.logger.InfowCtx(ctx, "Duplicate event skipped", "entity_id", entity)
		return summary, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanicWithCallback(r, func(perr error) {
				d.logger.ErrorwCtx(ctx, "Panic recovered during dispatch", "error", perr)
			})
			summary.Outcome = OutcomeFailed
		}
		if err != nil {
			d.deps.Dedup.Release(ctx, corr, entity, evt.EventType)
		}
	}()

	res, err := d.deps.Resolver.Resolve(ctx, evt)
	if err != nil {
		entry := audit.Entry{
			EventType:    evt.EventType,
			Payload:      payload,
			ErrorMessage: err.Error(),
		}
		if apperrors.IsCode(err, apperrors.ErrUnresolvedTenant) {
			summary.Outcome = OutcomeUnresolvedTenant
			entry.Status = audit.StatusSkipped
			entry.Reason = audit.ReasonUnresolvedTenant
			d.logger.WarnwCtx(ctx, "Event dropped, tenant could not be resolved", "error", err)
		} else {
			summary.Outcome = OutcomeFailed
			entry.Status = audit.StatusFailed
			entry.Reason = audit.ReasonTenantLookupFailed
			d.logger.ErrorwCtx(ctx, "Tenant lookup failed", "error", err)
		}
		d.deps.Audit.Record(ctx, entry)
		return summary, err
	}
	summary.TenantID = res.TenantID
	summary.Strategy = res.Strategy
	ctx = logging.WithTenantID(ctx, res.TenantID)

	decision, err := d.deps.Quota.CheckQuota(ctx, res.TenantID, 1)
	if err != nil {
		summary.Outcome = OutcomeFailed
		d.deps.Audit.Record(ctx, audit.Entry{
			TenantID:     res.TenantID,
			EventType:    evt.EventType,
			Payload:      payload,
			Status:       audit.StatusFailed,
			Reason:       audit.ReasonQuotaUnavailable,
			ErrorMessage: err.Error(),
		})
		return summary, err
	}
	if !decision.Allowed {
		summary.Outcome = OutcomeQuotaExceeded
		d.deps.Audit.Record(ctx, audit.Entry{
			TenantID:     res.TenantID,
			EventType:    evt.EventType,
			Payload:      payload,
			Status:       audit.StatusSkipped,
			Reason:       audit.ReasonQuotaExceeded,
			ErrorMessage: fmt.Sprintf("usage %d of %d", decision.Usage, decision.Limit),
		})
		d.logger.WarnwCtx(ctx, "Event dropped, tenant quota exceeded",
			"usage", decision.Usage,
			"limit", decision.Limit,
		)
		return summary, apperrors.ErrQuotaExceeded.
			WithDetail("usage", decision.Usage).
			WithDetail("limit", decision.Limit)
	}

	matched, pass, err := d.deps.Matcher.MatchRules(ctx, res.TenantID, evt.EventType)
	if err != nil {
		summary.Outcome = OutcomeFailed
		d.deps.Audit.Record(ctx, audit.Entry{
			TenantID:     res.TenantID,
			EventType:    evt.EventType,
			Payload:      payload,
			Status:       audit.StatusFailed,
			Reason:       audit.ReasonRuleLookupFailed,
			ErrorMessage: err.Error(),
		})
		return summary, err
	}
	summary.RulesMatched = len(matched)

	if len(matched) == 0 {
		summary.Outcome = OutcomeNoRules
		d.deps.Dedup.MarkProcessed(ctx, corr, entity, evt.EventType)
		d.logger.DebugwCtx(ctx, "No rules matched event")
		return summary, nil
	}

	d.logger.DebugwCtx(ctx, "Processing matched rules", "count", len(matched), "pass", pass)

	channels, err := d.deps.Channels.GetChannels(ctx, res.TenantID)
	if err != nil {
		summary.Outcome = OutcomeFailed
		d.deps.Audit.Record(ctx, audit.Entry{
			TenantID:     res.TenantID,
			EventType:    evt.EventType,
			Payload:      payload,
			Status:       audit.StatusFailed,
			Reason:       audit.ReasonChannelLookupFailed,
			ErrorMessage: err.Error(),
		})
		d.logger.ErrorwCtx(ctx, "Failed to load tenant channels", "error", err)
		return summary, fmt.Errorf("load channels: %w", err)
	}

	now := d.now()
	for _, rule := range matched {
		switch d.processRule(ctx, evt, payload, res.TenantID, rule, channels, now) {
		case ruleSent:
			summary.NotificationsSent++
		case ruleQueued:
			summary.Queued++
		case ruleSkipped:
			summary.Skipped++
		case ruleFailed:
			summary.Failed++
		}
	}

	d.deps.Dedup.MarkProcessed(ctx, corr, entity, evt.EventType)
	summary.Outcome = OutcomeProcessed

	d.logger.InfowCtx(ctx, "Event dispatched",
		"rules_matched", summary.RulesMatched,
		"sent", summary.NotificationsSent,
		"queued", summary.Queued,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// processRule handles one rule in isolation; a panic here costs only this rule.
func (d *Dispatcher) processRule(
	ctx context.Context,
	evt *models.InboundEvent,
	payload json.RawMessage,
	tenantID string,
	rule models.Rule,
	channels []models.Channel,
	now time.Time,
) (outcome ruleOutcome) {
	base := audit.Entry{
		TenantID:  tenantID,
		RuleID:    rule.ID,
		EventType: evt.EventType,
		Payload:   payload,
	}

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanicWithCallback(r, func(perr error) {
				d.logger.ErrorwCtx(ctx, "Panic recovered while processing rule",
					"rule_id", rule.ID,
					"error", perr,
				)
			})
			entry := base
			entry.Status = audit.StatusFailed
			entry.Reason = audit.ReasonProcessingPanicked
			entry.ErrorMessage = err.Error()
			d.deps.Audit.Record(ctx, entry)
			metrics.IncNotification("failed", audit.ReasonProcessingPanicked)
			outcome = ruleFailed
		}
	}()

	if failed, ok := d.deps.Filters.Evaluate(rule, evt, now); !ok {
		metrics.IncNotification("skipped", "filter")
		d.logger.DebugwCtx(ctx, "Rule filter rejected event",
			"rule_id", rule.ID,
			"constraint", failed,
		)
		return ruleSkipped
	}

	channel, reason := d.deps.Router.Route(evt, rule, channels)
	if channel == nil {
		entry := base
		entry.Status = audit.StatusSkipped
		entry.Reason = audit.ReasonNoChannel
		d.deps.Audit.Record(ctx, entry)
		metrics.IncNotification("skipped", audit.ReasonNoChannel)
		return ruleSkipped
	}
	base.ChannelID = channel.ID

	if d.deps.QuietHours != nil {
		status, _ := d.deps.QuietHours.IsQuietNow(ctx, tenantID)
		if status.IsQuiet {
			return d.deferUntilQuietEnds(ctx, base, rule, *channel, status)
		}
	}

	result := d.deps.Delivery.Deliver(ctx, delivery.Request{
		Rule:     rule,
		Event:    evt,
		Channel:  *channel,
		TenantID: tenantID,
	})

	entry := base
	entry.ResponseCode = result.Send.StatusCode
	entry.ResponseTimeMs = result.Send.Latency.Milliseconds()
	entry.RetryCount = len(result.Attempts) - 1
	if entry.RetryCount < 0 {
		entry.RetryCount = 0
	}

	if result.Delivered() {
		if err := d.deps.Quota.TrackUsage(ctx, tenantID, 1); err != nil {
			d.logger.ErrorwCtx(ctx, "Failed to track usage after delivery",
				"rule_id", rule.ID,
				"error", err,
			)
		}
		entry.ChannelID = result.ChannelID
		entry.Status = audit.StatusSuccess
		entry.Tier = result.Tier
		entry.FormattedMessage = result.Send.Text
		d.deps.Audit.Record(ctx, entry)
		metrics.IncNotification("success", string(reason))
		return ruleSent
	}

	if n := len(result.Attempts); n > 0 {
		last := result.Attempts[n-1]
		entry.ChannelID = last.ChannelID
		entry.Tier = last.Tier
		entry.ResponseCode = last.StatusCode
		entry.ResponseTimeMs = last.Latency.Milliseconds()
	}
	entry.Status = audit.StatusFailed
	entry.Reason = audit.ReasonAllTiersFailed
	if result.Outcome == delivery.OutcomeCircuitOpen {
		entry.Reason = audit.ReasonCircuitOpen
	}
	if result.Err != nil {
		entry.ErrorMessage = result.Err.Error()
	}
	d.deps.Audit.Record(ctx, entry)
	metrics.IncNotification("failed", entry.Reason)
	d.logger.WarnwCtx(ctx, "Notification delivery failed",
		"rule_id", rule.ID,
		"outcome", result.Outcome,
		"error", result.Err,
	)
	return ruleFailed
}

func (d *Dispatcher) deferUntilQuietEnds(ctx context.Context, base audit.Entry, rule models.Rule, channel models.Channel, status quiethours.Status) ruleOutcome {
	enq, err := d.deps.QuietHours.EnqueueDelayed(ctx, models.QueuedNotification{
		TenantID:     base.TenantID,
		RuleID:       rule.ID,
		ChannelID:    channel.ID,
		ChannelURL:   channel.URL,
		TemplateMode: rule.TemplateMode,
		Payload:      base.Payload,
		ScheduledFor: status.EndsAt,
		Reason:       status.Reason,
	})

	entry := base
	if err != nil {
		entry.Status = audit.StatusFailed
		entry.Reason = audit.ReasonEnqueueFailed
		entry.ErrorMessage = err.Error()
		d.deps.Audit.Record(ctx, entry)
		metrics.IncNotification("failed", audit.ReasonEnqueueFailed)
		return ruleFailed
	}

	scheduled := enq.ScheduledFor
	entry.Status = audit.StatusPending
	entry.Reason = audit.ReasonQuietHours
	entry.ErrorMessage = status.Reason
	entry.ScheduledFor = &scheduled
	d.deps.Audit.Record(ctx, entry)
	metrics.IncNotification("pending", audit.ReasonQuietHours)
	d.logger.InfowCtx(ctx, "Notification deferred by quiet hours",
		"rule_id", rule.ID,
		"scheduled_for", scheduled,
		"delay_minutes", enq.DelayMinutes,
	)
	return ruleQueued
}
