package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/audit"
	"relay/internal/dedup"
	"relay/internal/delivery"
	"relay/internal/filter"
	"relay/internal/logger"
	"relay/internal/messenger"
	"relay/internal/quota"
	"relay/internal/rules"
	"relay/internal/tenant"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

type tenantStore struct{}

func (tenantStore) FindByCompanyID(_ context.Context, companyID string) (*models.Tenant, error) {
	if companyID == "c-1" {
		return &models.Tenant{ID: "t-1", Name: "Acme", Status: models.TenantStatusActive}, nil
	}
	return nil, apperrors.ErrNotFound
}

func (tenantStore) FindByDomain(context.Context, string, string) (*models.Tenant, error) {
	return nil, apperrors.ErrNotFound
}

func (tenantStore) ListActive(context.Context) ([]models.Tenant, error) {
	return nil, nil
}

type counterStore struct {
	counter models.QuotaCounter
}

func (s *counterStore) GetCounter(context.Context, string) (*models.QuotaCounter, error) {
	c := s.counter
	return &c, nil
}

func (s *counterStore) Increment(_ context.Context, _ string, n int64) error {
	s.counter.PeriodUsage += n
	return nil
}

type ruleStore struct {
	rules []models.Rule
	calls atomic.Int32
}

func (s *ruleStore) GetRulesForEvent(_ context.Context, _ string, pattern string) ([]models.Rule, error) {
	s.calls.Add(1)
	var out []models.Rule
	for _, r := range s.rules {
		if r.EventPattern == pattern {
			out = append(out, r)
		}
	}
	return out, nil
}

type stack struct {
	hits     atomic.Int32
	server   *httptest.Server
	counter  *counterStore
	rules    *ruleStore
	audit    *memoryAudit
	dispatch *Dispatcher
}

func newStack(t *testing.T, usage, limit int64) *stack {
	t.Helper()
	s := &stack{
		counter: &counterStore{counter: models.QuotaCounter{TenantID: "t-1", PeriodUsage: usage, PeriodLimit: limit}},
		audit:   &memoryAudit{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.server.Close)

	s.rules = &ruleStore{rules: []models.Rule{{
		ID:           "r-1",
		TenantID:     "t-1",
		EventPattern: "deal.updated",
		Filter:       map[string]interface{}{"value_min": 1000.0},
		TemplateMode: models.TemplateDetailed,
		Enabled:      true,
	}}}
	channels := &fakeChannels{channels: []models.Channel{{
		ID: "ch-1", TenantID: "t-1", Name: "general", URL: s.server.URL, Active: true,
	}}}

	log := logger.NopLogger()
	resolver := tenant.NewResolver(tenantStore{}, log)
	pipeline := delivery.NewPipeline(
		messenger.NewSender(messenger.Config{Timeout: time.Second}, log),
		channels,
		resolver,
		circuitbreaker.NewWrapper(circuitbreaker.Config{Name: t.Name(), Threshold: 5, Cooldown: time.Minute}),
		nil,
		delivery.Config{TierTimeout: time.Second, RetryBackoff: -1},
		log,
	)

	s.dispatch = NewDispatcher(Deps{
		Dedup:    dedup.NewDeduplicator(dedup.NewMemoryStore(), dedup.Config{}, log),
		Resolver: resolver,
		Quota:    quota.NewGate(s.counter, quota.Config{}, log),
		Matcher:  rules.NewMatcher(s.rules, log),
		Filters:  filter.NewCompiler(filter.Options{}),
		Channels: channels,
		Delivery: pipeline,
		Audit:    s.audit,
	}, log)
	return s
}

func TestEndToEnd_LastUnitOfQuotaDelivers(t *testing.T) {
	s := newStack(t, 99, 100)

	summary, err := s.dispatch.Dispatch(context.Background(), dealUpdated())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, int32(1), s.hits.Load())
	assert.Equal(t, int64(100), s.counter.counter.PeriodUsage)

	require.Len(t, s.audit.entries, 1)
	entry := s.audit.entries[0]
	assert.Equal(t, audit.StatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.Tier)
	assert.Equal(t, http.StatusOK, entry.ResponseCode)
	assert.Contains(t, entry.FormattedMessage, "Acme renewal")
}

func TestEndToEnd_ExhaustedQuotaSkipsEverything(t *testing.T) {
	s := newStack(t, 100, 100)

	summary, err := s.dispatch.Dispatch(context.Background(), dealUpdated())

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrQuotaExceeded))
	assert.Equal(t, OutcomeQuotaExceeded, summary.Outcome)
	assert.Zero(t, s.hits.Load())
	assert.Zero(t, s.rules.calls.Load())
	assert.Equal(t, int64(100), s.counter.counter.PeriodUsage)

	require.Len(t, s.audit.entries, 1)
	assert.Equal(t, audit.ReasonQuotaExceeded, s.audit.entries[0].Reason)
}

func TestEndToEnd_FilterBelowThresholdSendsNothing(t *testing.T) {
	s := newStack(t, 0, 100)
	evt := models.NewInboundEventBuilder("deal.updated").
		WithCompanyID("c-1").
		WithMeta("corr-2", "deal-2").
		WithField("title", "Tiny deal").
		WithField("value", 10).
		Build()

	summary, err := s.dispatch.Dispatch(context.Background(), evt)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, s.hits.Load())
	assert.Empty(t, s.audit.entries)
}
