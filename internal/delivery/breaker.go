package delivery

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
)

const BreakerName = "chat-webhooks"

// NewBreaker builds the breaker shared by every delivery tier. Caller mistakes and
// shutdown cancellations do not count against it.
func NewBreaker(cfg config.CircuitBreakerConfig, log logger.Logger) *circuitbreaker.Wrapper {
	return circuitbreaker.NewWrapper(circuitbreaker.Config{
		Name:      BreakerName,
		Threshold: cfg.Threshold,
		Cooldown:  cfg.Cooldown,
		IsFailure: func(err error) bool {
			return !apperrors.IsValidation(err) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Delivery circuit breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}
