package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateInboundEvent checks the minimum fields the pipeline relies on.
func ValidateInboundEvent(evt *InboundEvent) error {
	if evt == nil {
		return &ValidationError{
			Field:   "event",
			Message: "inbound event cannot be nil",
		}
	}

	if strings.TrimSpace(evt.EventType) == "" {
		return &ValidationError{
			Field:   "event",
			Message: "event type is required",
		}
	}

	if evt.Entity() == "" {
		return &ValidationError{
			Field:   "event",
			Message: fmt.Sprintf("event type %q must start with an entity name", evt.EventType),
		}
	}

	if evt.Current == nil {
		return &ValidationError{
			Field:   "current",
			Message: "current snapshot cannot be nil",
		}
	}

	return nil
}
