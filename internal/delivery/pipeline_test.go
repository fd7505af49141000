package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	"relay/internal/messenger"
	"relay/internal/tenant"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

var errWebhookDown = apperrors.ErrTransientDelivery.WithDetail("message", "webhook down")

// scriptedSender answers call i with script[i]; calls past the end of the script succeed.
type scriptedSender struct {
	mu     sync.Mutex
	script []error
	calls  []messenger.Message
	block  bool
}

func (s *scriptedSender) Send(ctx context.Context, msg messenger.Message) (messenger.SendResult, error) {
	s.mu.Lock()
	i := len(s.calls)
	s.calls = append(s.calls, msg)
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return messenger.SendResult{}, apperrors.ErrTransientDelivery.WithCause(ctx.Err())
	}
	if i < len(s.script) && s.script[i] != nil {
		return messenger.SendResult{StatusCode: 503}, s.script[i]
	}
	return messenger.SendResult{MessageID: "m-1", StatusCode: 200, Text: "ok"}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeChannels struct {
	byTenant map[string][]models.Channel
	err      error
}

func (f *fakeChannels) GetChannels(_ context.Context, tenantID string) ([]models.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTenant[tenantID], nil
}

type fakeResolver struct {
	tenantID string
	err      error
}

func (f *fakeResolver) Resolve(context.Context, *models.InboundEvent) (tenant.Resolution, error) {
	return tenant.Resolution{TenantID: f.tenantID, Strategy: tenant.StrategyCompanyID}, f.err
}

type recordingAlerter struct {
	alerts []BackupAlert
}

func (r *recordingAlerter) BackupTierUsed(_ context.Context, alert BackupAlert) {
	r.alerts = append(r.alerts, alert)
}

var (
	primaryChannel   = models.Channel{ID: "ch-primary", TenantID: "t-1", Name: "general", URL: "https://hooks.example.com/primary", Active: true}
	alternateChannel = models.Channel{ID: "ch-alt", TenantID: "t-1", Name: "backup", URL: "https://hooks.example.com/alt", Active: true}
)

type fixture struct {
	sender   *scriptedSender
	channels *fakeChannels
	alerter  *recordingAlerter
	breaker  *circuitbreaker.Wrapper
	pipeline *Pipeline
}

func newFixture(t *testing.T, script []error, channels []models.Channel, cfg Config, threshold uint32) *fixture {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	f := &fixture{
		sender:   &scriptedSender{script: script},
		channels: &fakeChannels{byTenant: map[string][]models.Channel{"t-1": channels}},
		alerter:  &recordingAlerter{},
		breaker: circuitbreaker.NewWrapper(circuitbreaker.Config{
			Name:      t.Name(),
			Threshold: threshold,
			Cooldown:  time.Minute,
		}),
	}
	f.pipeline = NewPipeline(f.sender, f.channels, &fakeResolver{tenantID: "t-1"}, f.breaker, f.alerter, cfg, logger.NopLogger())
	return f
}

func request() Request {
	return Request{
		Rule:     models.Rule{ID: "r-1", TenantID: "t-1", TemplateMode: models.TemplateDetailed},
		Event:    models.NewInboundEventBuilder("deal.updated").WithField("title", "Acme").Build(),
		Channel:  primaryChannel,
		TenantID: "t-1",
	}
}

func TestPipeline_PrimarySuccess(t *testing.T) {
	f := newFixture(t, nil, []models.Channel{primaryChannel, alternateChannel}, Config{}, 5)

	res := f.pipeline.Deliver(context.Background(), request())

	require.True(t, res.Delivered())
	assert.Equal(t, 1, res.Tier)
	assert.Equal(t, "ch-primary", res.ChannelID)
	assert.Equal(t, 200, res.Send.StatusCode)
	assert.Empty(t, f.alerter.alerts)
	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, models.TemplateDetailed, f.sender.calls[0].TemplateMode)
}

func TestPipeline_TierFallthrough(t *testing.T) {
	tests := []struct {
		name        string
		script      []error
		channels    []models.Channel
		cfg         Config
		wantOutcome Outcome
		wantTier    int
		wantChannel string
		wantSends   int
	}{
		{
			name:        "simplified retry",
			script:      []error{errWebhookDown},
			channels:    []models.Channel{primaryChannel, alternateChannel},
			wantOutcome: OutcomeDelivered,
			wantTier:    2,
			wantChannel: "ch-primary",
			wantSends:   2,
		},
		{
			name:        "alternate channel",
			script:      []error{errWebhookDown, errWebhookDown},
			channels:    []models.Channel{primaryChannel, alternateChannel},
			wantOutcome: OutcomeDelivered,
			wantTier:    3,
			wantChannel: "ch-alt",
			wantSends:   3,
		},
		{
			name:        "emergency when no alternate exists",
			script:      []error{errWebhookDown, errWebhookDown},
			channels:    []models.Channel{primaryChannel},
			wantOutcome: OutcomeDelivered,
			wantTier:    4,
			wantChannel: "ch-primary",
			wantSends:   3,
		},
		{
			name:        "emergency skipped without alternate",
			script:      []error{errWebhookDown, errWebhookDown},
			channels:    []models.Channel{primaryChannel},
			cfg:         Config{SkipEmergencyWithoutAlternate: true},
			wantOutcome: OutcomeAllTiersFailed,
			wantSends:   2,
		},
		{
			name:        "every tier fails",
			script:      []error{errWebhookDown, errWebhookDown, errWebhookDown, errWebhookDown},
			channels:    []models.Channel{primaryChannel, alternateChannel},
			wantOutcome: OutcomeAllTiersFailed,
			wantSends:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.script, tt.channels, tt.cfg, 10)

			res := f.pipeline.Deliver(context.Background(), request())

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantTier, res.Tier)
			assert.Equal(t, tt.wantChannel, res.ChannelID)
			assert.Equal(t, tt.wantSends, f.sender.callCount())

			for _, call := range f.sender.calls[1:] {
				assert.Equal(t, models.TemplateSimple, call.TemplateMode)
			}

			if tt.wantOutcome == OutcomeDelivered {
				require.Len(t, f.alerter.alerts, 1)
				assert.Equal(t, tt.wantTier, f.alerter.alerts[0].Tier)
				assert.NotEmpty(t, f.alerter.alerts[0].Failures)
			} else {
				assert.True(t, apperrors.IsCode(res.Err, apperrors.ErrAllTiersFailed))
				assert.Empty(t, f.alerter.alerts)
			}
		})
	}
}

func TestPipeline_AllTiersFailedCarriesEveryTierError(t *testing.T) {
	f := newFixture(t, []error{errWebhookDown, errWebhookDown, errWebhookDown, errWebhookDown},
		[]models.Channel{primaryChannel, alternateChannel}, Config{}, 10)

	res := f.pipeline.Deliver(context.Background(), request())

	var appErr *apperrors.Error
	require.True(t, errors.As(res.Err, &appErr))
	tiers, ok := appErr.Details["tiers"].(map[string]string)
	require.True(t, ok)
	assert.Len(t, tiers, 4)
	assert.Contains(t, tiers, "tier_3_alternate_channel")
}

func TestPipeline_BreakerTripsMidSequence(t *testing.T) {
	f := newFixture(t, []error{errWebhookDown, errWebhookDown, errWebhookDown},
		[]models.Channel{primaryChannel, alternateChannel}, Config{}, 3)

	res := f.pipeline.Deliver(context.Background(), request())

	assert.Equal(t, OutcomeCircuitOpen, res.Outcome)
	assert.True(t, apperrors.IsCode(res.Err, apperrors.ErrCircuitOpen))
	assert.Equal(t, 3, f.sender.callCount())
	assert.True(t, f.breaker.IsOpen())

	// While open nothing reaches the network.
	res = f.pipeline.Deliver(context.Background(), request())
	assert.Equal(t, OutcomeCircuitOpen, res.Outcome)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, 3, f.sender.callCount())
}

func TestPipeline_BreakerHalfOpenRecovers(t *testing.T) {
	sender := &scriptedSender{script: []error{errWebhookDown, errWebhookDown}}
	breaker := circuitbreaker.NewWrapper(circuitbreaker.Config{Name: t.Name(), Threshold: 2, Cooldown: 20 * time.Millisecond})
	p := NewPipeline(sender,
		&fakeChannels{byTenant: map[string][]models.Channel{"t-1": {primaryChannel}}},
		&fakeResolver{tenantID: "t-1"}, breaker, &recordingAlerter{},
		Config{RetryBackoff: time.Millisecond}, logger.NopLogger())

	res := p.Deliver(context.Background(), request())
	require.Equal(t, OutcomeCircuitOpen, res.Outcome)

	time.Sleep(40 * time.Millisecond)

	res = p.Deliver(context.Background(), request())
	require.True(t, res.Delivered())
	assert.Equal(t, 1, res.Tier)
	assert.True(t, breaker.IsClosed())
	assert.Equal(t, uint32(0), breaker.Snapshot().ConsecutiveFailures)
}

func TestPipeline_SuccessResetsFailureCount(t *testing.T) {
	f := newFixture(t, []error{errWebhookDown}, []models.Channel{primaryChannel}, Config{}, 5)

	res := f.pipeline.Deliver(context.Background(), request())
	require.True(t, res.Delivered())
	assert.Equal(t, uint32(0), f.breaker.Snapshot().ConsecutiveFailures)
}

func TestPipeline_TierTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t, nil, []models.Channel{primaryChannel}, Config{TierTimeout: 10 * time.Millisecond, RetryBackoff: -1}, 10)
	f.sender.block = true

	start := time.Now()
	res := f.pipeline.Deliver(context.Background(), request())

	assert.Equal(t, OutcomeAllTiersFailed, res.Outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint32(3), f.breaker.Snapshot().ConsecutiveFailures)
}

func TestNewBreaker_IgnoresValidationErrors(t *testing.T) {
	b := NewBreaker(configFor(1), logger.NopLogger())

	_, err := b.Execute(func() (interface{}, error) { return nil, apperrors.ErrValidation })
	require.Error(t, err)
	assert.True(t, b.IsClosed())

	_, _ = b.Execute(func() (interface{}, error) { return nil, errWebhookDown })
	assert.True(t, b.IsOpen())
}
