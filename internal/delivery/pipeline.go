package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"relay/internal/logger"
	"relay/internal/messenger"
	"relay/internal/routing"
	"relay/internal/tenant"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

const (
	defaultTierTimeout  = 10 * time.Second
	defaultRetryBackoff = 2 * time.Second
)

var errNoAlternateChannel = errors.New("no alternate channel")

type MessageSender interface {
	Send(ctx context.Context, msg messenger.Message) (messenger.SendResult, error)
}

type TenantResolver interface {
	Resolve(ctx context.Context, evt *models.InboundEvent) (tenant.Resolution, error)
}

type Config struct {
	TierTimeout                   time.Duration
	RetryBackoff                  time.Duration
	SkipEmergencyWithoutAlternate bool
}

type Request struct {
	Rule     models.Rule
	Event    *models.InboundEvent
	Channel  models.Channel
	TenantID string
}

type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeAllTiersFailed Outcome = "all_tiers_failed"
	OutcomeCircuitOpen    Outcome = "circuit_open"
)

// Attempt records one tier that was tried.
type Attempt struct {
	Tier       int
	Name       string
	ChannelID  string
	StatusCode int
	Latency    time.Duration
	Err        error
}

type Result struct {
	Outcome   Outcome
	Tier      int
	ChannelID string
	Send      messenger.SendResult
	Attempts  []Attempt
	Err       error
}

func (r Result) Delivered() bool {
	return r.Outcome == OutcomeDelivered
}

// target is what a tier decided to send and where.
type target struct {
	channel models.Channel
	mode    models.TemplateMode
	custom  string
}

type tier struct {
	number int
	name   string
	delay  time.Duration
	pick   func(ctx context.Context, req Request) (target, error)
}

// Pipeline delivers one notification, falling back through progressively more
// conservative tiers until one succeeds. All sends share one circuit breaker.
type Pipeline struct {
	sender   MessageSender
	channels routing.ChannelStore
	resolver TenantResolver
	router   *routing.Router
	breaker  *circuitbreaker.Wrapper
	alerter  Alerter
	cfg      Config
	logger   logger.Logger
	tiers    []tier
}

func NewPipeline(
	sender MessageSender,
	channels routing.ChannelStore,
	resolver TenantResolver,
	breaker *circuitbreaker.Wrapper,
	alerter Alerter,
	cfg Config,
	log logger.Logger,
) *Pipeline {
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = defaultTierTimeout
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if alerter == nil {
		alerter = NewLogAlerter(log)
	}

	p := &Pipeline{
		sender:   sender,
		channels: channels,
		resolver: resolver,
		router:   routing.NewRouter(),
		breaker:  breaker,
		alerter:  alerter,
		cfg:      cfg,
		logger:   log,
	}
	p.tiers = []tier{
		{number: 1, name: "primary", pick: p.primary},
		{number: 2, name: "simplified_retry", delay: cfg.RetryBackoff, pick: p.simplified},
		{number: 3, name: "alternate_channel", pick: p.alternate},
		{number: 4, name: "emergency", pick: p.emergency},
	}
	return p
}

// Breaker returns the shared delivery breaker.
func (p *Pipeline) Breaker() *circuitbreaker.Wrapper {
	return p.breaker
}

func (p *Pipeline) Deliver(ctx context.Context, req Request) Result {
	ctx, span := tracing.StartStage(ctx, "delivery.deliver",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("rule_id", req.Rule.ID),
	)
	defer span.End()

	start := time.Now()
	result := p.run(ctx, req)
	metrics.ObserveDeliveryDuration(string(result.Outcome), time.Since(start))
	span.SetAttributes(attribute.String("delivery.outcome", string(result.Outcome)), attribute.Int("delivery.tier", result.Tier))
	if result.Err != nil {
		tracing.RecordError(span, result.Err)
	}

	if result.Delivered() && result.Tier > 1 {
		metrics.IncBackupTier(result.Tier)
		p.alerter.BackupTierUsed(ctx, newBackupAlert(req, result))
	}
	return result
}

func (p *Pipeline) run(ctx context.Context, req Request) Result {
	var (
		result      Result
		noAlternate bool
	)

	for _, t := range p.tiers {
		if p.breaker.IsOpen() {
			return p.circuitOpen(result, nil)
		}
		if t.number == 4 && noAlternate && p.cfg.SkipEmergencyWithoutAlternate {
			break
		}
		if err := ctx.Err(); err != nil {
			result.Attempts = append(result.Attempts, Attempt{Tier: t.number, Name: t.name, Err: err})
			break
		}

		if t.delay > 0 {
			if err := sleep(ctx, t.delay); err != nil {
				result.Attempts = append(result.Attempts, Attempt{Tier: t.number, Name: t.name, Err: err})
				break
			}
		}

		tgt, err := t.pick(ctx, req)
		if err != nil {
			if errors.Is(err, errNoAlternateChannel) {
				noAlternate = true
			}
			metrics.IncDeliveryAttempt(t.number, "skipped")
			result.Attempts = append(result.Attempts, Attempt{Tier: t.number, Name: t.name, Err: err})
			p.logger.WarnwCtx(ctx, "Delivery tier unavailable",
				"tier", t.number,
				"tier_name", t.name,
				"error", err,
			)
			continue
		}

		sent, err := p.send(ctx, req, tgt)
		attempt := Attempt{
			Tier:       t.number,
			Name:       t.name,
			ChannelID:  tgt.channel.ID,
			StatusCode: sent.StatusCode,
			Latency:    sent.Latency,
			Err:        err,
		}
		result.Attempts = append(result.Attempts, attempt)

		if err == nil {
			metrics.IncDeliveryAttempt(t.number, "success")
			result.Outcome = OutcomeDelivered
			result.Tier = t.number
			result.ChannelID = tgt.channel.ID
			result.Send = sent
			return result
		}

		if circuitbreaker.IsRejection(err) {
			metrics.IncDeliveryAttempt(t.number, "rejected")
			return p.circuitOpen(result, err)
		}

		metrics.IncDeliveryAttempt(t.number, "failure")
		p.logger.WarnwCtx(ctx, "Delivery tier failed",
			"tier", t.number,
			"tier_name", t.name,
			"channel_id", tgt.channel.ID,
			"status_code", sent.StatusCode,
			"error", err,
		)
	}

	result.Outcome = OutcomeAllTiersFailed
	result.Err = apperrors.ErrAllTiersFailed.WithDetail("tiers", tierErrors(result.Attempts))
	return result
}

// send runs one webhook call under the breaker with the tier timeout applied.
func (p *Pipeline) send(ctx context.Context, req Request, tgt target) (messenger.SendResult, error) {
	var sent messenger.SendResult
	_, err := p.breaker.Execute(func() (interface{}, error) {
		tierCtx, cancel := context.WithTimeout(ctx, p.cfg.TierTimeout)
		defer cancel()

		res, err := p.sender.Send(tierCtx, messenger.Message{
			ChannelURL:     tgt.channel.URL,
			Event:          req.Event,
			TemplateMode:   tgt.mode,
			CustomTemplate: tgt.custom,
			TenantID:       req.TenantID,
		})
		sent = res
		return nil, err
	})
	return sent, err
}

func (p *Pipeline) circuitOpen(result Result, cause error) Result {
	snap := p.breaker.Snapshot()
	err := apperrors.ErrCircuitOpen.
		WithDetail("breaker", snap.Name).
		WithDetail("consecutive_failures", snap.ConsecutiveFailures)
	if snap.OpenedAt != nil {
		err = err.WithDetail("opened_at", snap.OpenedAt.UTC().Format(time.RFC3339))
	}
	if cause != nil {
		err = err.WithCause(cause)
	}

	result.Outcome = OutcomeCircuitOpen
	result.Err = err
	return result
}

func (p *Pipeline) primary(_ context.Context, req Request) (target, error) {
	mode := req.Rule.TemplateMode
	if mode == "" {
		mode = models.TemplateDetailed
	}
	return target{channel: req.Channel, mode: mode, custom: req.Rule.CustomTemplate}, nil
}

func (p *Pipeline) simplified(_ context.Context, req Request) (target, error) {
	return target{channel: req.Channel, mode: models.TemplateSimple}, nil
}

func (p *Pipeline) alternate(ctx context.Context, req Request) (target, error) {
	channels, err := p.channels.GetChannels(ctx, req.TenantID)
	if err != nil {
		return target{}, fmt.Errorf("load channels: %w", err)
	}
	alt := routing.Alternate(channels, req.Channel.ID)
	if alt == nil {
		return target{}, errNoAlternateChannel
	}
	return target{channel: *alt, mode: models.TemplateSimple}, nil
}

// emergency ignores everything derived earlier in the dispatch and starts again from
// the raw event.
func (p *Pipeline) emergency(ctx context.Context, req Request) (target, error) {
	res, err := p.resolver.Resolve(ctx, req.Event)
	if err != nil {
		return target{}, fmt.Errorf("resolve tenant: %w", err)
	}
	channels, err := p.channels.GetChannels(ctx, res.TenantID)
	if err != nil {
		return target{}, fmt.Errorf("load channels: %w", err)
	}
	ch, _ := p.router.Route(req.Event, models.Rule{}, channels)
	if ch == nil {
		return target{}, apperrors.ErrNoChannelAvailable
	}
	return target{channel: *ch, mode: models.TemplateSimple}, nil
}

func tierErrors(attempts []Attempt) map[string]string {
	out := make(map[string]string, len(attempts))
	for _, a := range attempts {
		if a.Err != nil {
			out[fmt.Sprintf("tier_%d_%s", a.Tier, a.Name)] = a.Err.Error()
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
