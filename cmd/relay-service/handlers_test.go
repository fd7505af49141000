package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/dispatch"
	"relay/internal/logger"
	"relay/internal/tenant"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/health"
	"relay/pkg/models"
)

type fakeSubmitter struct {
	accept    bool
	submitted []*models.InboundEvent
}

func (f *fakeSubmitter) Submit(_ context.Context, evt *models.InboundEvent) bool {
	f.submitted = append(f.submitted, evt)
	return f.accept
}

type fakeDispatcher struct {
	summary dispatch.Summary
	err     error
	calls   int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *models.InboundEvent) (dispatch.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type failingChecker struct{}

func (failingChecker) Name() string { return "postgresql" }
func (failingChecker) Check(ctx context.Context) error { return errors.New("connection refused") }

const validEvent = `{"event":"deal.updated","current":{"id":7,"value":1200},"company_id":42}`

func newTestRouter(api *API) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.RegisterRoutes(r)
	return r
}

func newTestAPI(sub *fakeSubmitter, disp *fakeDispatcher) *API {
	return &API{
		pool:       sub,
		dispatcher: disp,
		breaker:    circuitbreaker.NewWrapper(circuitbreaker.Config{Name: "delivery"}),
		health:     health.NewCheckerRegistry(),
		logger:     logger.NopLogger(),
	}
}

func TestSubmitEvent(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		accept        bool
		summary       dispatch.Summary
		dispatchErr   error
		wantStatus    int
		wantCode      string
		wantDispatch  int
		wantSubmitted int
	}{
		{
			name:          "queued for a worker",
			body:          validEvent,
			accept:        true,
			wantStatus:    http.StatusAccepted,
			wantSubmitted: 1,
		},
		{
			name:   "dispatched inline when the queue is full",
			body:   validEvent,
			accept: false,
			summary: dispatch.Summary{
				TenantID:          "tenant-1",
				Strategy:          tenant.StrategyCompanyID,
				RulesMatched:      1,
				NotificationsSent: 1,
				Outcome:           dispatch.OutcomeProcessed,
			},
			wantStatus:    http.StatusOK,
			wantDispatch:  1,
			wantSubmitted: 1,
		},
		{
			name:          "quota exceeded inline",
			body:          validEvent,
			dispatchErr:   apperrors.ErrQuotaExceeded.WithDetail("usage", 100),
			summary:       dispatch.Summary{Outcome: dispatch.OutcomeQuotaExceeded},
			wantStatus:    http.StatusTooManyRequests,
			wantCode:      apperrors.ErrQuotaExceeded.Code,
			wantDispatch:  1,
			wantSubmitted: 1,
		},
		{
			name:       "malformed json",
			body:       `{"event":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.ErrValidation.Code,
		},
		{
			name:       "missing current snapshot",
			body:       `{"event":"deal.updated"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.ErrValidation.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{accept: tt.accept}
			disp := &fakeDispatcher{summary: tt.summary, err: tt.dispatchErr}
			router := newTestRouter(newTestAPI(sub, disp))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantDispatch, disp.calls)
			assert.Len(t, sub.submitted, tt.wantSubmitted)

			if tt.wantCode != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.ErrorCode)
			}
		})
	}
}

func TestSubmitEventInlineSummary(t *testing.T) {
	disp := &fakeDispatcher{summary: dispatch.Summary{
		TenantID:          "tenant-1",
		Strategy:          tenant.StrategyCompanyID,
		RulesMatched:      2,
		NotificationsSent: 1,
		Skipped:           1,
		Outcome:           dispatch.OutcomeProcessed,
	}}
	router := newTestRouter(newTestAPI(&fakeSubmitter{}, disp))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(validEvent))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp DispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.Equal(t, string(tenant.StrategyCompanyID), resp.Strategy)
	assert.Equal(t, string(dispatch.OutcomeProcessed), resp.Outcome)
	assert.Equal(t, 2, resp.RulesMatched)
	assert.Equal(t, 1, resp.NotificationsSent)
	assert.Equal(t, 1, resp.Skipped)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		api := newTestAPI(&fakeSubmitter{}, &fakeDispatcher{})
		api.health.Register(health.NewCircuitBreakerChecker(api.breaker.(*circuitbreaker.Wrapper)))
		router := newTestRouter(api)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var h health.Health
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, health.StatusHealthy, h.Status)
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		api := newTestAPI(&fakeSubmitter{}, &fakeDispatcher{})
		api.health.Register(failingChecker{})
		router := newTestRouter(api)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestCircuitStatus(t *testing.T) {
	router := newTestRouter(newTestAPI(&fakeSubmitter{}, &fakeDispatcher{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/circuit", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var state circuitbreaker.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "delivery", state.Name)
	assert.False(t, state.IsOpen)
}
