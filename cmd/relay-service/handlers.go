package main

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/dispatch"
	"relay/internal/logger"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/health"
	"relay/pkg/metrics"
	"relay/pkg/models"
)

const maxEventBodySize = 1 << 20

type eventSubmitter interface {
	Submit(ctx context.Context, evt *models.InboundEvent) bool
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, evt *models.InboundEvent) (dispatch.Summary, error)
}

type breakerSnapshotter interface {
	Snapshot() circuitbreaker.State
}

// API serves the ops endpoints and the inline event intake.
type API struct {
	pool       eventSubmitter
	dispatcher eventDispatcher
	breaker    breakerSnapshotter
	health     *health.CheckerRegistry
	logger     logger.Logger
}

// AcceptedResponse is returned when an event is queued for a worker.
type AcceptedResponse struct {
	Queued bool `json:"queued"`
}

// DispatchResponse is returned when an event was dispatched on the request goroutine.
type DispatchResponse struct {
	TenantID          string `json:"tenant_id,omitempty"`
	Strategy          string `json:"strategy,omitempty"`
	Outcome           string `json:"outcome"`
	RulesMatched      int    `json:"rules_matched"`
	NotificationsSent int    `json:"notifications_sent"`
	Queued            int    `json:"queued"`
	Skipped           int    `json:"skipped"`
	Failed            int    `json:"failed"`
}

// ErrorResponse mirrors errors.ToErrorResponse.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.Health)
	router.GET("/status/circuit", a.CircuitStatus)
	router.POST("/api/v1/events", a.SubmitEvent)
}

// Health godoc
// @Summary      Service health
// @Description  Aggregated dependency checks; an open delivery circuit reports degraded
// @Tags         ops
// @Produce      json
// @Success      200  {object}  health.Health
// @Failure      503  {object}  health.Health
// @Router       /health [get]
func (a *API) Health(c *gin.Context) {
	h := a.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if h.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, h)
}

// CircuitStatus godoc
// @Summary      Delivery circuit breaker state
// @Tags         ops
// @Produce      json
// @Success      200  {object}  circuitbreaker.State
// @Router       /status/circuit [get]
func (a *API) CircuitStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.breaker.Snapshot())
}

// SubmitEvent godoc
// @Summary      Submit a CRM event
// @Description  Queues the event for a dispatch worker, or dispatches it inline when the queue is full
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        event  body      models.InboundEvent  true  "CRM change event"
// @Success      200    {object}  DispatchResponse
// @Success      202    {object}  AcceptedResponse
// @Failure      400    {object}  ErrorResponse
// @Failure      422    {object}  ErrorResponse
// @Failure      429    {object}  ErrorResponse
// @Router       /api/v1/events [post]
func (a *API) SubmitEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	evt, err := models.ParseInboundEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("message", err.Error()),
		))
		return
	}

	ctx := c.Request.Context()
	if a.pool.Submit(ctx, evt) {
		c.JSON(http.StatusAccepted, AcceptedResponse{Queued: true})
		return
	}

	metrics.IncInlineFallback("queue_full")
	summary, err := a.dispatcher.Dispatch(ctx, evt)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Inline dispatch failed", "error", err, "outcome", summary.Outcome)
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, DispatchResponse{
		TenantID:          summary.TenantID,
		Strategy:          string(summary.Strategy),
		Outcome:           string(summary.Outcome),
		RulesMatched:      summary.RulesMatched,
		NotificationsSent: summary.NotificationsSent,
		Queued:            summary.Queued,
		Skipped:           summary.Skipped,
		Failed:            summary.Failed,
	})
}
