package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"relay/internal/constants"
	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/ratelimit"
	"relay/pkg/tracing"
)

const (
	defaultUsername = "Relay"
	maxErrorBody    = 512
)

type Config struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Username      string
}

// Message is one rendered notification bound for a chat webhook.
type Message struct {
	ChannelURL     string
	Event          *models.InboundEvent
	TemplateMode   models.TemplateMode
	CustomTemplate string
	TenantID       string
}

type SendResult struct {
	MessageID  string
	StatusCode int
	Latency    time.Duration
	// Text is the message body as sent, kept for the audit log.
	Text string
}

// Sender posts Slack-compatible incoming webhook payloads.
type Sender struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Keyed
	logger     logger.Logger
}

func NewSender(cfg Config, log logger.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultHTTPTimeout
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}

	return &Sender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.NewKeyed(ratelimit.Config{RPS: cfg.RatePerSecond, Burst: cfg.Burst}),
		logger:     log,
	}
}

// Limiter exposes the per-destination limiter so the caller can run its eviction loop.
func (s *Sender) Limiter() *ratelimit.Keyed {
	return s.limiter
}

// Send delivers msg. 429, 5xx and network failures come back as ErrTransientDelivery;
// any other non-2xx status is ErrDeliveryRejected. StatusCode and Latency are filled in
// whenever a response was received.
func (s *Sender) Send(ctx context.Context, msg Message) (SendResult, error) {
	ctx, span := tracing.StartStage(ctx, "messenger.send",
		attribute.String("tenant_id", msg.TenantID),
		attribute.String("template_mode", string(msg.TemplateMode)),
	)
	defer span.End()

	result := SendResult{MessageID: uuid.NewString()}

	if msg.Event == nil {
		return result, apperrors.ErrValidation.WithDetail("message", "message has no event")
	}
	target, err := url.Parse(msg.ChannelURL)
	if err != nil || target.Host == "" {
		return result, apperrors.ErrValidation.WithDetail("message", "invalid webhook URL")
	}

	payload := render(msg, s.cfg.Username)
	result.Text = payload.Text

	body, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.limiter.Wait(ctx, target.Host); err != nil {
		return result, apperrors.ErrTransientDelivery.WithCause(fmt.Errorf("rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.ChannelURL, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Message-Id", result.MessageID)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		metrics.ObserveMessengerRequest("network", result.Latency)
		tracing.RecordError(span, err)
		return result, apperrors.ErrTransientDelivery.WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	metrics.ObserveMessengerRequest(statusClass(resp.StatusCode), result.Latency)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := s.handleResponse(resp, target.Host); err != nil {
		tracing.RecordError(span, err)
		return result, err
	}

	s.logger.DebugwCtx(ctx, "Chat message sent",
		"message_id", result.MessageID,
		"host", target.Host,
		"latency_ms", result.Latency.Milliseconds(),
	)
	return result, nil
}

func (s *Sender) handleResponse(resp *http.Response, host string) error {
	if resp.StatusCode >= constants.HTTPStatusOKMin && resp.StatusCode < constants.HTTPStatusOKMax {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := fmt.Sprintf("%s responded %d: %s", host, resp.StatusCode, bytes.TrimSpace(snippet))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return apperrors.ErrTransientDelivery.
			WithDetail("message", detail).
			WithDetail("status_code", resp.StatusCode)
	}
	return apperrors.ErrDeliveryRejected.
		WithDetail("message", detail).
		WithDetail("status_code", resp.StatusCode)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code == http.StatusTooManyRequests:
		return "429"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
