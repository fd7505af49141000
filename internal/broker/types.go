package broker

import (
	"context"

	"relay/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.Envelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.Envelope) error

// Attribute keys set on envelopes routed to the dead letter topic.
const (
	AttrDLQReason      = "dlq_reason"
	AttrDLQSourceTopic = "dlq_source_topic"
	AttrDLQTimestamp   = "dlq_timestamp"
)
