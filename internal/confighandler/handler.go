package confighandler

import (
	"context"
	"encoding/json"
	"fmt"

	"relay/internal/logger"
	"relay/pkg/models"
)

// Invalidator drops cached configuration so the next lookup reads the store.
type Invalidator interface {
	Invalidate(tenantID string)
	InvalidateAll()
}

// Handler applies config update events from the broker to local caches.
type Handler struct {
	invalidators map[string][]Invalidator
	logger       logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{
		invalidators: make(map[string][]Invalidator),
		logger:       log,
	}
}

// On registers inv for events of the given type (models.EventTypeRuleUpdated, ...).
func (h *Handler) On(eventType string, inv Invalidator) *Handler {
	h.invalidators[eventType] = append(h.invalidators[eventType], inv)
	return h
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.Envelope) error {
	var event models.ConfigUpdateEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		// Malformed config events can never succeed; drop them instead of retrying.
		h.logger.ErrorwCtx(ctx, "Failed to unmarshal config event", "error", err, "id", envelope.ID)
		return nil
	}

	if event.EventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}

	invalidators, ok := h.invalidators[event.EventType]
	if !ok {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"tenant_id", event.TenantID,
		"rule_id", event.RuleID,
	)

	for _, inv := range invalidators {
		if err := apply(inv, event); err != nil {
			h.logger.ErrorwCtx(ctx, "Failed to apply config update", "error", err)
			return err
		}
	}
	return nil
}

func apply(inv Invalidator, event models.ConfigUpdateEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalidator panicked: %v", r)
		}
	}()

	if event.Action == models.ActionReload || event.TenantID == "" {
		inv.InvalidateAll()
		return nil
	}
	inv.Invalidate(event.TenantID)
	return nil
}
